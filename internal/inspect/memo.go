package inspect

import "log"

// Memo caches Describe results for the lifetime of one request so the same
// payload is never scanned twice. It is not safe for concurrent use and must
// not outlive the request that created it.
type Memo struct {
	logger  *log.Logger
	results map[memoKey]Description
}

type memoKey struct {
	buf  *byte
	size int
	mime string
}

func NewMemo(logger *log.Logger) *Memo {
	return &Memo{logger: logger, results: make(map[memoKey]Description, 1)}
}

func (m *Memo) Describe(buf []byte, mimeType string) Description {
	if len(buf) == 0 {
		return Describe(m.logger, buf, mimeType)
	}

	key := memoKey{buf: &buf[0], size: len(buf), mime: mimeType}
	if d, ok := m.results[key]; ok {
		return d
	}
	d := Describe(m.logger, buf, mimeType)
	m.results[key] = d
	return d
}
