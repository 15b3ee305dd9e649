package engine

import "errors"

// errPeerVanished is the practically-unreachable case where a concurrent
// insert won the miss-path race and then the table lost that peer again
// (e.g. a racing reap) before this goroutine could look it up.
var errPeerVanished = errors.New("engine: peer vanished after insert race")
