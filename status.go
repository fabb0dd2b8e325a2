package zcall

import "fmt"

// ReplyStatus is the leading byte of every reply payload
type ReplyStatus uint8

const (
	ReplyOK ReplyStatus = iota
	ReplyUserException
	ReplyObjectNotExist
	ReplyFacetNotExist
	ReplyOperationNotExist
	ReplyUnknownLocalException
	ReplyUnknownUserException
	ReplyUnknownException
)

var replyStatusNames = [...]string{
	"ok",
	"user exception",
	"object not exist",
	"facet not exist",
	"operation not exist",
	"unknown local exception",
	"unknown user exception",
	"unknown exception",
}

func (s ReplyStatus) String() string {
	if int(s) < len(replyStatusNames) {
		return replyStatusNames[s]
	}
	return fmt.Sprintf("reply status %d", uint8(s))
}

// Failed reports whether the status marks a remote failure
func (s ReplyStatus) Failed() bool {
	return s != ReplyOK
}

// Status of an Invocation
type Status int32

const (
	StatusNotSent Status = iota
	StatusInFlight
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotSent:
		return "not-sent"
	case StatusInFlight:
		return "in-flight"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status %d", int32(s))
}
