package messaging

// MockFillSender records fills in memory. Used in tests and as a
// stand-in when no broker is configured.
type MockFillSender struct {
	Fills []*FillMessage
}

// NewMockFillSender creates a new MockFillSender
func NewMockFillSender() *MockFillSender {
	return &MockFillSender{}
}

// SendFill records the fill
func (m *MockFillSender) SendFill(fill *FillMessage) error {
	m.Fills = append(m.Fills, fill)
	return nil
}

// Close does nothing
func (m *MockFillSender) Close() error {
	return nil
}

// Ensure MockFillSender implements FillSender
var _ FillSender = (*MockFillSender)(nil)
