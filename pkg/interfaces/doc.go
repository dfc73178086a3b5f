// Package interfaces declares the collaborators the overlay core consumes
// but does not implement: the rendezvous/signalling link, the peer registry
// it populates, and the room the local peer has joined. Implementations live
// outside this module.
package interfaces
