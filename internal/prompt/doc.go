// Package prompt assembles the ordered content sequence for one model call.
//
// Assembly is pure: the global instruction leads as a user turn, stored
// history follows role-for-role, and the new user turn closes the sequence
// carrying the message text plus any transformed attachment parts. Legacy
// role names are normalized here so old rows never leak into the payload.
package prompt
