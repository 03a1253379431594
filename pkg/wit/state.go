package wit

// SessionState represents the protocol step a backend session is in
type SessionState string

const (
	StateInit                 SessionState = "init"
	StateResolving            SessionState = "resolving"
	StateConnecting           SessionState = "connecting"
	StateHandshaking          SessionState = "handshaking"
	StateWritingRequest       SessionState = "writing_request"
	StateWritingRequestHeader SessionState = "writing_request_header"
	StateReadingContinue      SessionState = "reading_continue"
	StateStreamingChunks      SessionState = "streaming_chunks"
	StateWritingLastChunk     SessionState = "writing_last_chunk"
	StateReadingResponse      SessionState = "reading_response"
	StateShuttingDown         SessionState = "shutting_down"
	StateDone                 SessionState = "done"
	StateFailed               SessionState = "failed"
)

// Terminal reports whether no further transition can happen
func (s SessionState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func (s SessionState) String() string {
	return string(s)
}
