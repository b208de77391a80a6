package protocol

// NoOpHandler implements MessageHandler with no-op methods.
type NoOpHandler struct{}

func (NoOpHandler) HandleReportCreate(*Envelope, *ReportCreate)   {}
func (NoOpHandler) HandleTransition(*Envelope, *TransitionNotice) {}

var _ MessageHandler = NoOpHandler{}
