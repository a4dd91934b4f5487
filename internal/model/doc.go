// Package model abstracts the remote generative model behind the Gateway
// interface.
//
// Input is a sequence of role-tagged turns whose parts carry text, inline
// binary data, or remote-file handles. Streamed output arrives as a finite
// chunk channel whose last element always has Done set; a failed generation
// sets Err on that terminal chunk so consumers never depend on channel
// closure alone.
//
// Remote failures map onto a small taxonomy: ErrRateLimited for quota
// exhaustion, ErrInvalidContent for rejected content parts, and RemoteError
// for everything else. The production implementation speaks the OpenAI
// chat-completions API via sashabaranov/go-openai.
package model
