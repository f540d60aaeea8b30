package llm

import "context"

// MockClient is a deterministic Client for tests and offline use.
// GenerateFunc, when set, overrides the canned Response.
type MockClient struct {
	Response     string
	Err          error
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	Calls        []string
}

// Generate records the prompt and returns the configured response or error.
func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.Calls = append(m.Calls, prompt)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Close is a no-op.
func (m *MockClient) Close() error {
	return nil
}
