package dispatch

import "errors"

var (
	ErrUnsupportedEmergencyType = errors.New("dispatch: unsupported emergency type")
	ErrUnsupportedDispatchType  = errors.New("dispatch: no unit type for dispatch type")
	ErrActiveDispatchExists     = errors.New("dispatch: report already has an active dispatch")
	ErrReportClosed             = errors.New("dispatch: report is closed")
	ErrDispatchClosed           = errors.New("dispatch: dispatch is closed")
	ErrUnitCapReached           = errors.New("dispatch: dispatch already holds its unit cap")
	ErrQueueFull                = errors.New("dispatch: scheduler queue full")
	ErrSchedulerStopped         = errors.New("dispatch: scheduler stopped")
)
