package eventfold

// Revision is the version of a stream as last observed by a writer. An
// append succeeds only when the stream is still at exactly this revision.
type Revision uint64

// NoStream expects the stream to have no events yet.
const NoStream Revision = 0

// Next returns the version the first appended event will receive.
func (r Revision) Next() uint64 { return uint64(r) + 1 }
