package events

import (
	"github.com/ethereum/go-ethereum/event"
)

// Built describes a committed build.
type Built struct {
	OutDir      string
	Fingerprint uint64
	Revision    uint64
	// Changed is false when the inputs matched the previous build.
	Changed bool
}

// BuiltFeed is emitted after every build whose outputs were committed.
// Subscribers holding tables from OutDir should reload when Changed is true.
// Send blocks until every subscriber has received, so subscribers must drain
// their channel.
var BuiltFeed = event.FeedOf[Built]{}
