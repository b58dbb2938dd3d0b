package llm

import "context"

// StubInvoker returns a fixed Result for every call, for use in tests
// that exercise the scheduler against a deterministic scenario without a
// live provider.
type StubInvoker struct {
	Result Result
	Err    error
	Calls  []Request
}

func (s *StubInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	s.Calls = append(s.Calls, req)
	if s.Err != nil {
		return Result{}, s.Err
	}
	return s.Result, nil
}

// SequenceInvoker returns successive Results/Errs from a fixed sequence,
// falling back to repeating the last entry once exhausted. Useful for
// modelling a provider that fails then recovers.
type SequenceInvoker struct {
	Results []Result
	Errs    []error
	calls   int
}

func (s *SequenceInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	i := s.calls
	if i >= len(s.Results) {
		i = len(s.Results) - 1
	}
	s.calls++
	var err error
	if i < len(s.Errs) {
		err = s.Errs[i]
	}
	if err != nil {
		return Result{}, err
	}
	return s.Results[i], nil
}
