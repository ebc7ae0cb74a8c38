package scanning

import "context"

// DefaultSamplePayload mimics a typical chatty model answer
const DefaultSamplePayload = `Here is the receipt data: {"vendor": "Sample Hardware Co.", "amount": "$42.18", "date": "2024-03-15"}`

// Sample is a Scanner that ignores the image and answers with a fixed payload.
// It lets the service run without provider credentials.
type Sample struct {
	payload string
}

// NewSample creates a Sample scanner; an empty payload uses DefaultSamplePayload
func NewSample(payload string) *Sample {
	if payload == "" {
		payload = DefaultSamplePayload
	}
	return &Sample{payload: payload}
}

// Scan returns the configured payload
func (s *Sample) Scan(ctx context.Context, _ []byte, _ string) (Raw, error) {
	if err := ctx.Err(); err != nil {
		return Raw{}, err
	}
	return RawText(s.payload), nil
}

// Close is a no-op
func (s *Sample) Close() error {
	return nil
}
