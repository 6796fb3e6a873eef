package ai

import "fmt"

// FailureKind classifies why a generation produced no usable text.
type FailureKind string

const (
	FailureConfiguration FailureKind = "configuration"
	FailureTransport     FailureKind = "transport"
	FailureContract      FailureKind = "contract"
)

// Failure wraps the underlying cause with its kind.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Reply is the outcome of one Generate call. Exactly one of Text or Failure is meaningful.
type Reply struct {
	Text    string
	Failure *Failure
}

func (r Reply) OK() bool { return r.Failure == nil }

func failed(kind FailureKind, err error) Reply {
	return Reply{Failure: &Failure{Kind: kind, Err: err}}
}
