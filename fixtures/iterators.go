package fixtures

import (
	"context"
	"io"

	es "github.com/terraskye/eventfold"
)

// Failing yields envelopes in order and then fails with err instead of
// ending cleanly.
func Failing(err error, envelopes ...*es.Envelope) *es.Iterator[*es.Envelope] {
	rest := envelopes
	return es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if len(rest) == 0 {
			return nil, err
		}
		env := rest[0]
		rest = rest[1:]
		return env, nil
	})
}

// Pulls records how many envelopes a consumer took from an iterator built by
// Over, so tests can check that replay stops early.
type Pulls struct {
	N int
}

// Over iterates envelopes, counting every one handed out.
func (p *Pulls) Over(envelopes []*es.Envelope) *es.Iterator[*es.Envelope] {
	rest := envelopes
	return es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if len(rest) == 0 {
			return nil, io.EOF
		}
		p.N++
		env := rest[0]
		rest = rest[1:]
		return env, nil
	})
}
