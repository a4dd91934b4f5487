// ABOUTME: Pure assembly of the role-tagged content sequence sent to the model
// ABOUTME: Instruction leads, history follows role-for-role, the new turn closes

package prompt

import (
	"github.com/2389/skyhammer/internal/model"
	"github.com/2389/skyhammer/internal/store"
)

// Assemble builds the ordered content sequence for one model call: the
// global instruction as a leading user turn, the conversation history mapped
// role-for-role, and the new user turn carrying the message text plus any
// transformed attachment parts. Stored roles are validated here; anything
// that is not the model role is treated as user-originated.
func Assemble(instruction string, history []store.Message, text string, attachment []model.Part) []model.Turn {
	turns := make([]model.Turn, 0, len(history)+2)

	turns = append(turns, model.Turn{
		Role:  store.RoleUser,
		Parts: []model.Part{model.TextPart(instruction)},
	})

	for _, msg := range history {
		turns = append(turns, model.Turn{
			Role:  store.ParseRole(string(msg.Role)),
			Parts: []model.Part{model.TextPart(msg.Content)},
		})
	}

	userParts := make([]model.Part, 0, 1+len(attachment))
	userParts = append(userParts, model.TextPart(text))
	userParts = append(userParts, attachment...)
	turns = append(turns, model.Turn{Role: store.RoleUser, Parts: userParts})

	return turns
}
