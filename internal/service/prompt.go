// Package service runs one conversational turn end to end: language
// normalization, the per-user state machine, answering, localization and
// the dispatch and persistence side effects.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/prompt-engine/internal/answer"
	"github.com/capitalize-ai/prompt-engine/internal/dispatch"
	"github.com/capitalize-ai/prompt-engine/internal/flow"
	"github.com/capitalize-ai/prompt-engine/internal/language"
	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/internal/session"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
	"github.com/capitalize-ai/prompt-engine/pkg/metrics"
	"github.com/capitalize-ai/prompt-engine/pkg/tracing"
)

// ErrUnsupportedMedia is returned for media the engine cannot transcribe.
// No collaborator is called for such requests.
var ErrUnsupportedMedia = errors.New("unsupported media")

const (
	// MsgTranslationFailed is the user-facing error for a failed translation leg.
	MsgTranslationFailed = "unable to translate given language"
	// MsgInputFailed is the user-facing error for input that could not be read.
	MsgInputFailed = "unable to process the given input"
	// MsgTimeout is the user-facing error for a turn that ran out of time.
	MsgTimeout = "Request timed out. Please try again."
)

// Normalizer is the language leg of a turn.
type Normalizer interface {
	Normalize(ctx context.Context, req *model.PromptRequest) (*model.Prompt, error)
	Translate(ctx context.Context, source, target model.Language, text string) (string, error)
}

// Answerer produces open-domain answers.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Result, error)
}

// HistoryWriter records completed turns.
type HistoryWriter interface {
	Create(ctx context.Context, entry *model.HistoryEntry) error
	CreateContextLinks(ctx context.Context, links []model.ContextLink) error
}

// Dispatcher delivers replies to the outbound transport.
type Dispatcher interface {
	Send(ctx context.Context, msg *model.OutboundMessage) error
}

// EventPublisher publishes turn audit events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.TurnEvent) (uint64, error)
}

// Option configures a PromptService.
type Option func(*PromptService)

// WithVerifier enables the application status flow.
func WithVerifier(v flow.Verifier) Option {
	return func(s *PromptService) { s.verifier = v }
}

// WithDispatcher delivers every reply to the outbound transport.
func WithDispatcher(d Dispatcher) Option {
	return func(s *PromptService) { s.dispatcher = d }
}

// WithEvents publishes turn events.
func WithEvents(p EventPublisher) Option {
	return func(s *PromptService) { s.events = p }
}

// WithTurnTimeout bounds the time a turn may wait for its session and run
// the state machine.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *PromptService) { s.turnTimeout = d }
}

// WithSideEffectTimeout bounds dispatch and persistence.
func WithSideEffectTimeout(d time.Duration) Option {
	return func(s *PromptService) { s.sideEffectTimeout = d }
}

// PromptService handles POST /prompt turns.
type PromptService struct {
	gateway    Normalizer
	sessions   *session.Store
	classifier flow.IntentClassifier
	answers    Answerer
	history    HistoryWriter
	verifier   flow.Verifier
	dispatcher Dispatcher
	events     EventPublisher
	logger     *logger.Logger

	turnTimeout       time.Duration
	sideEffectTimeout time.Duration
}

// NewPromptService creates a new prompt service.
func NewPromptService(
	gateway Normalizer,
	sessions *session.Store,
	classifier flow.IntentClassifier,
	answers Answerer,
	history HistoryWriter,
	log *logger.Logger,
	opts ...Option,
) *PromptService {
	s := &PromptService{
		gateway:           gateway,
		sessions:          sessions,
		classifier:        classifier,
		answers:           answers,
		history:           history,
		logger:            log,
		turnTimeout:       60 * time.Second,
		sideEffectTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle runs one turn. User-facing failures are reported in the response;
// the returned error is ErrUnsupportedMedia or nil.
func (s *PromptService) Handle(ctx context.Context, req *model.PromptRequest) (*model.PromptResponse, error) {
	if strings.TrimSpace(req.Text) == "" && req.Media != nil && !language.IsTranscribable(req.Media) {
		metrics.RecordTurn("unsupported_media")
		return nil, ErrUnsupportedMedia
	}

	ctx, span := tracing.Start(ctx, "prompt")
	defer span.End()

	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.Must(uuid.NewV7()).String()
	}
	log := s.logger.WithTurn(logger.CorrelationID(ctx), req.UserID, messageID)
	if req.Channel != "" {
		log = log.With(zap.String("channel", req.Channel))
	}

	// The user's place in line is taken on arrival, before any provider call,
	// and held until the turn is recorded.
	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	release, err := s.sessions.Acquire(ctx, req.UserID)
	if err != nil {
		span.RecordError(err)
		log.Warn("failed to acquire session", zap.Error(err))
		metrics.RecordTurn("errored")
		return model.ErrorResponse(errorMessage(err)), nil
	}
	defer release()

	prompt, err := s.gateway.Normalize(ctx, req)
	if err != nil {
		span.RecordError(err)
		log.Warn("failed to normalize input", zap.Error(err))
		metrics.RecordTurn("input_failed")
		if errors.Is(err, language.ErrUnsupportedInput) {
			return model.ErrorResponse(MsgInputFailed), nil
		}
		return model.ErrorResponse(MsgTranslationFailed), nil
	}
	log = log.With(zap.String("language", string(prompt.InputLanguage)))

	t, err := s.runTurn(ctx, req, prompt, log)
	if err != nil {
		span.RecordError(err)
		log.Warn("turn failed", zap.Error(err))
		metrics.RecordTurn("errored")
		return model.ErrorResponse(errorMessage(err)), nil
	}
	if t.state.Phase == flow.PhaseErrored {
		metrics.RecordTurn("errored")
		return model.ErrorResponse(t.state.Error), nil
	}

	localized, err := s.gateway.Translate(ctx, model.PivotLanguage, t.language, t.state.Response)
	if err != nil {
		span.RecordError(err)
		log.Warn("failed to localize response", zap.Error(err))
		metrics.RecordTurn("translation_failed")
		return model.ErrorResponse(MsgTranslationFailed), nil
	}

	s.sideEffects(ctx, req, prompt, t, messageID, localized, log)

	if t.state.Phase == flow.PhaseCompleted {
		metrics.RecordTurn("completed")
	} else {
		metrics.RecordTurn("paused")
	}
	return model.TextResponse(localized), nil
}

// turn is the result of one state machine cycle.
type turn struct {
	state          flow.State
	language       model.Language
	conversationID string
	// answer is set when the cycle went through the open-domain path.
	answer *answer.Result
}

// runTurn delivers the prompt to the user's session. The caller holds the
// user's lock.
func (s *PromptService) runTurn(ctx context.Context, req *model.PromptRequest, prompt *model.Prompt, log *logger.Logger) (*turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess := s.sessions.GetOrCreate(req.UserID, prompt.InputLanguage)
	if sess.ConversationID == "" {
		sess.ConversationID = req.ConversationID
		if sess.ConversationID == "" {
			sess.ConversationID = uuid.Must(uuid.NewV7()).String()
		}
	}
	// Digits carry no language, so they must not switch the reply language.
	if !language.IsNumeric(prompt.InputText) {
		sess.Language = prompt.InputLanguage
	}

	answerer := &turnAnswerer{answers: s.answers, userID: req.UserID}
	opts := []flow.InterpreterOption{flow.WithErrorMessages(errorMessage)}
	if s.verifier != nil {
		opts = append(opts, flow.WithVerifier(s.verifier))
	}
	interpreter := flow.NewInterpreter(s.classifier, answerer, log, opts...)

	from := sess.State.Phase
	state, cause := interpreter.Send(ctx, sess.State, flow.UserInput{Text: prompt.PivotText})
	sess.State = state
	s.sessions.Save(sess)

	log.Debug("turn settled",
		zap.String("from", string(from)),
		zap.String("phase", string(state.Phase)),
		zap.Bool("paused", state.Paused),
	)

	if state.Phase == flow.PhaseErrored {
		log.Warn("session errored", zap.String("phase", string(from)), zap.Error(cause))
		s.publish(ctx, &model.TurnEvent{
			UserID:         req.UserID,
			ConversationID: sess.ConversationID,
			MessageID:      req.MessageID,
			Type:           model.EventTypeSessionErrored,
			Reason:         errorReason(cause),
		}, log)
	}

	return &turn{
		state:          state,
		language:       sess.Language,
		conversationID: sess.ConversationID,
		answer:         answerer.result,
	}, nil
}

// sideEffects delivers the reply and records the turn concurrently. Neither
// failure is returned to the user.
func (s *PromptService) sideEffects(
	ctx context.Context,
	req *model.PromptRequest,
	prompt *model.Prompt,
	t *turn,
	messageID, localized string,
	log *logger.Logger,
) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	var g errgroup.Group

	if s.dispatcher != nil && req.From != "" {
		g.Go(func() error {
			ctx, span := tracing.Start(ctx, "dispatch")
			defer span.End()
			err := s.dispatcher.Send(ctx, model.NewTextMessage(localized, req.From, messageID))
			if err != nil && !errors.Is(err, dispatch.ErrNotConfigured) {
				span.RecordError(err)
				metrics.SideEffectFailuresTotal.WithLabelValues("dispatch").Inc()
				log.Error("failed to dispatch reply", zap.Error(err))
			}
			return nil
		})
	}

	if t.answer != nil && s.history != nil {
		g.Go(func() error {
			s.persist(ctx, req, prompt, t, messageID, localized, log)
			return nil
		})
	}

	if t.state.Phase == flow.PhaseCompleted {
		g.Go(func() error {
			s.publish(ctx, &model.TurnEvent{
				UserID:         req.UserID,
				ConversationID: t.conversationID,
				MessageID:      messageID,
				Type:           model.EventTypeSessionDone,
			}, log)
			return nil
		})
	}

	_ = g.Wait()
}

func (s *PromptService) persist(
	ctx context.Context,
	req *model.PromptRequest,
	prompt *model.Prompt,
	t *turn,
	messageID, localized string,
	log *logger.Logger,
) {
	res := t.answer
	entry := &model.HistoryEntry{
		ID:               messageID,
		UserID:           req.UserID,
		ConversationID:   t.conversationID,
		Query:            prompt.InputText,
		QueryInPivot:     res.Query,
		Response:         localized,
		ResponseInPivot:  res.Response,
		CoreferencedText: res.Rewritten,
		ResponseTimeMs:   time.Since(prompt.StartedAt).Milliseconds(),
		Metadata:         res.Metadata,
		CacheHit:         res.CacheHit,
		ReusedEntryID:    res.ReusedEntryID,
		CreatedAt:        time.Now(),
	}

	if err := s.history.Create(ctx, entry); err != nil {
		metrics.SideEffectFailuresTotal.WithLabelValues("persist").Inc()
		log.Error("failed to persist turn", zap.Error(err))
		return
	}

	if !res.CacheHit && len(res.Context) > 0 {
		links := make([]model.ContextLink, 0, len(res.Context))
		for _, doc := range res.Context {
			links = append(links, model.ContextLink{
				QueryID:    entry.ID,
				DocumentID: doc.ID,
				Content:    doc.Content,
				Tags:       doc.Tags,
				Score:      doc.Score,
			})
		}
		if err := s.history.CreateContextLinks(ctx, links); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues("context_links").Inc()
			log.Error("failed to persist context links", zap.Error(err))
		}
	}

	s.publish(ctx, &model.TurnEvent{
		UserID:         req.UserID,
		ConversationID: t.conversationID,
		MessageID:      entry.ID,
		Type:           model.EventTypeTurnRecorded,
		Metadata: map[string]any{
			"cache_hit":        res.CacheHit,
			"reused_entry_id":  res.ReusedEntryID,
			"response_time_ms": entry.ResponseTimeMs,
			"context_items":    len(res.Context),
		},
	}, log)
}

func (s *PromptService) publish(ctx context.Context, event *model.TurnEvent, log *logger.Logger) {
	if s.events == nil {
		return
	}
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.CreatedAt = time.Now()
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		metrics.SideEffectFailuresTotal.WithLabelValues("event").Inc()
		log.Warn("failed to publish turn event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// turnAnswerer adapts the answer engine to the state machine and keeps the
// result of the cycle for persistence.
type turnAnswerer struct {
	answers Answerer
	userID  string
	result  *answer.Result
}

func (a *turnAnswerer) Answer(ctx context.Context, query string) (string, error) {
	res, err := a.answers.Answer(ctx, answer.Request{UserID: a.userID, Query: query})
	if err != nil {
		return "", err
	}
	a.result = res
	return res.Response, nil
}

func errorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	return flow.MsgGenericError
}

func errorReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
