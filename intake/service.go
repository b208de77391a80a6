package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"firecore/dispatch"
	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

var ErrInvalidReport = errors.New("intake: invalid report")

// ReportInput is a caller-submitted emergency report. EmergencyType is only
// required here; whether it can be dispatched is decided by the planner.
type ReportInput struct {
	ReporterName  string  `json:"reporterName" validate:"required,max=120"`
	ReporterPhone string  `json:"reporterPhone" validate:"omitempty,max=32"`
	Address       string  `json:"address" validate:"required,max=255"`
	Latitude      float64 `json:"latitude" validate:"latitude"`
	Longitude     float64 `json:"longitude" validate:"longitude"`
	Description   string  `json:"description" validate:"max=2000"`
	EmergencyType string  `json:"emergencyType" validate:"required"`
	Priority      string  `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// FromMessage converts an inbound report.create payload.
func FromMessage(m protocol.ReportCreate) ReportInput {
	return ReportInput{
		ReporterName:  m.ReporterName,
		ReporterPhone: m.ReporterPhone,
		Address:       m.Address,
		Latitude:      m.Latitude,
		Longitude:     m.Longitude,
		Description:   m.Description,
		EmergencyType: m.EmergencyType,
		Priority:      m.Priority,
	}
}

// Planner is the part of the dispatcher intake needs.
type Planner interface {
	PlanDispatch(ctx context.Context, report *store.Report) (*store.Dispatch, *dispatch.Task, error)
}

type Service struct {
	db       *store.DB
	machine  *lifecycle.Machine
	planner  Planner
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(db *store.DB, machine *lifecycle.Machine, planner Planner, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		machine:  machine,
		planner:  planner,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.With().Str("component", "intake").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks in without persisting anything.
func (s *Service) Validate(in ReportInput) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidReport, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	return nil
}

// CreateReport persists a RECEIVED report and plans its dispatch. When the
// emergency type cannot be dispatched the stored report is still returned,
// together with dispatch.ErrUnsupportedEmergencyType.
func (s *Service) CreateReport(ctx context.Context, in ReportInput) (*store.Report, *dispatch.Task, error) {
	in.EmergencyType = strings.ToUpper(strings.TrimSpace(in.EmergencyType))
	in.Priority = strings.ToUpper(strings.TrimSpace(in.Priority))
	if err := s.Validate(in); err != nil {
		return nil, nil, err
	}

	r, err := s.insert(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info().Str("report", r.ReportNumber).Str("type", r.EmergencyType).Str("priority", r.Priority).Msg("report received")

	_, task, err := s.planner.PlanDispatch(ctx, r)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnsupportedEmergencyType) {
			s.log.Warn().Str("report", r.ReportNumber).Str("type", r.EmergencyType).Msg("no dispatch type for emergency")
		}
		return r, nil, err
	}
	if fresh, gerr := s.db.GetReport(ctx, r.ID); gerr == nil {
		r = fresh
	}
	return r, task, nil
}

func (s *Service) insert(ctx context.Context, in ReportInput) (*store.Report, error) {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		now := s.now()
		r := &store.Report{
			ReportNumber:  dispatch.NewNumber(dispatch.ReportNumberPrefix, now),
			ReporterName:  in.ReporterName,
			ReporterPhone: in.ReporterPhone,
			Address:       in.Address,
			Latitude:      in.Latitude,
			Longitude:     in.Longitude,
			Description:   in.Description,
			EmergencyType: in.EmergencyType,
			Priority:      in.Priority,
			Status:        protocol.ReportReceived,
			ReceivedAt:    now,
		}
		_, err := s.machine.Create(ctx, protocol.KindReport, func(tx *store.Tx) (int64, string, error) {
			if err := tx.InsertReport(ctx, r); err != nil {
				return 0, "", err
			}
			return r.ID, r.Status, nil
		})
		if err == nil {
			return r, nil
		}
		if !store.IsUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("report number: %w", lastErr)
}
