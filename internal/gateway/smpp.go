package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/thrillee/aegisbulk/internal/logging"
	"github.com/thrillee/aegisbulk/pkg/codes"
	"github.com/thrillee/aegisbulk/pkg/segmenter"
)

// SMPPConfig holds the transmitter bind settings.
type SMPPConfig struct {
	Host           string
	Port           int
	SystemID       string
	Password       string `json:"-"`
	SystemType     string
	EnquireLink    time.Duration
	RequestTimeout time.Duration
	MaxWindowSize  uint8
	SourceAddrTON  byte
	SourceAddrNPI  byte
	DestAddrTON    byte
	DestAddrNPI    byte
}

// SMPPSender submits one submit_sm per recipient and segment over a transmitter bind.
type SMPPSender struct {
	config    SMPPConfig
	segmenter segmenter.Segmenter
	status    atomic.Value
	connMu    sync.Mutex
	session   *gosmpp.Session
	pending   sync.Map // sequence number -> chan submitOutcome
}

type submitOutcome struct {
	messageID string
	err       error
}

var _ Sender = (*SMPPSender)(nil)

// NewSMPPSender creates a new, unbound sender.
func NewSMPPSender(cfg SMPPConfig) (*SMPPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.SystemID == "" {
		return nil, errors.New("missing required SMPP config fields (Host, Port, SystemID)")
	}
	if cfg.EnquireLink <= 0 {
		cfg.EnquireLink = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxWindowSize == 0 {
		cfg.MaxWindowSize = 10
	}
	if cfg.SourceAddrTON == 0 {
		cfg.SourceAddrTON = 5 // alphanumeric
	}
	if cfg.DestAddrTON == 0 {
		cfg.DestAddrTON = 1 // international
		cfg.DestAddrNPI = 1 // E.164
	}

	s := &SMPPSender{config: cfg, segmenter: segmenter.NewDefaultSegmenter()}
	s.status.Store(codes.StatusDisconnected)
	return s, nil
}

// Bind opens the transmitter session.
func (s *SMPPSender) Bind(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.session != nil {
		return errors.New("session already bound")
	}
	s.status.Store(codes.StatusConnecting)
	slog.InfoContext(ctx, "Binding SMPP transmitter",
		slog.String("host", s.config.Host),
		slog.Int("port", s.config.Port),
		slog.String("system_id", s.config.SystemID),
	)

	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		SystemID:   s.config.SystemID,
		Password:   s.config.Password,
		SystemType: s.config.SystemType,
	}

	settings := gosmpp.Settings{
		EnquireLink:  s.config.EnquireLink,
		ReadTimeout:  s.config.RequestTimeout + 5*time.Second,
		WriteTimeout: s.config.RequestTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         s.config.MaxWindowSize,
			PduExpireTimeOut:      s.config.RequestTimeout,
			ExpireCheckTimer:      5 * time.Second,
			OnReceivedPduRequest:  s.handleReceivedPduRequest,
			OnExpectedPduResponse: s.handleExpectedPduResponse,
			OnExpiredPduRequest:   s.handleExpiredPduRequest,
			OnClosePduRequest:     s.handleClosePduRequest,
		},

		OnSubmitError:    s.onSubmitError,
		OnReceivingError: s.onReceivingError,
		OnRebindingError: s.onRebindingError,
		OnClosed:         s.onClosed,
	}

	sess, err := gosmpp.NewSession(gosmpp.TXConnector(gosmpp.NonTLSDialer, auth), settings, 5*time.Second)
	if err != nil {
		s.status.Store(codes.StatusDisconnected)
		slog.ErrorContext(ctx, "SMPP session creation failed", slog.Any("error", err))
		return fmt.Errorf("gosmpp.NewSession failed: %w", err)
	}
	s.session = sess
	s.status.Store(codes.StatusBound)
	slog.InfoContext(ctx, "SMPP transmitter bound")
	return nil
}

// Shutdown unbinds and closes the session.
func (s *SMPPSender) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.session == nil {
		return nil
	}
	s.status.Store(codes.StatusUnbinding)
	err := s.session.Close()
	s.session = nil
	s.status.Store(codes.StatusDisconnected)
	if err != nil {
		slog.WarnContext(ctx, "Error during SMPP session close", slog.Any("error", err))
		return err
	}
	slog.InfoContext(ctx, "SMPP session closed")
	return nil
}

// Status returns the current connection status.
func (s *SMPPSender) Status() string {
	return s.status.Load().(string)
}

// SendMessage submits every recipient and waits for each submit_sm_resp.
// The first failing recipient fails the request.
func (s *SMPPSender) SendMessage(ctx context.Context, req SendRequest) (SendAck, error) {
	if len(req.Recipients) == 0 {
		return SendAck{}, ErrNoRecipients
	}
	s.connMu.Lock()
	sess := s.session
	s.connMu.Unlock()
	if sess == nil || s.Status() != codes.StatusBound {
		return SendAck{}, fmt.Errorf("%w (status: %s)", ErrNotConnected, s.Status())
	}

	segments, requiresUCS2, err := s.segmenter.GetSegments(req.Message)
	if err != nil {
		return SendAck{}, fmt.Errorf("message segmentation failed: %w", err)
	}

	ack := SendAck{RequestID: uuid.NewString(), Status: "queued"}
	for _, msisdn := range req.Recipients {
		logCtx := logging.ContextWithMSISDN(ctx, msisdn)
		for i, content := range segments {
			p, err := s.buildSubmitSM(req.SenderID, msisdn, content, requiresUCS2)
			if err != nil {
				return ack, err
			}
			if _, err := s.submit(logCtx, sess, p); err != nil {
				slog.WarnContext(logCtx, "Failed to submit segment", slog.Int("seqn", i+1), slog.Any("error", err))
				return ack, fmt.Errorf("submit to %s failed: %w", msisdn, err)
			}
		}
		ack.Accepted++
	}
	return ack, nil
}

func (s *SMPPSender) submit(ctx context.Context, sess *gosmpp.Session, p *pdu.SubmitSM) (string, error) {
	seq := p.GetSequenceNumber()
	done := make(chan submitOutcome, 1)
	s.pending.Store(seq, done)
	defer s.pending.Delete(seq)

	if err := sess.Transmitter().Submit(p); err != nil {
		return "", err
	}

	timer := time.NewTimer(s.config.RequestTimeout + time.Second)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.messageID, out.err
	case <-timer.C:
		return "", ErrSubmitTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// buildSubmitSM constructs the PDU for a single segment.
func (s *SMPPSender) buildSubmitSM(senderID, msisdn, content string, requiresUCS2 bool) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(s.config.SourceAddrTON)
	srcAddr.SetNpi(s.config.SourceAddrNPI)
	if err := srcAddr.SetAddress(senderID); err != nil {
		return nil, fmt.Errorf("invalid source address (SenderID) '%s': %w", senderID, err)
	}
	p.SourceAddr = srcAddr

	destAddr := pdu.NewAddress()
	destAddr.SetTon(s.config.DestAddrTON)
	destAddr.SetNpi(s.config.DestAddrNPI)
	if err := destAddr.SetAddress(strings.TrimPrefix(msisdn, "+")); err != nil {
		return nil, fmt.Errorf("invalid destination address '%s': %w", msisdn, err)
	}
	p.DestAddr = destAddr

	coding := data.GSM7BIT
	if requiresUCS2 {
		coding = data.UCS2
	}
	if err := p.Message.SetMessageWithEncoding(content, coding); err != nil {
		return nil, fmt.Errorf("failed to set message content: %w", err)
	}

	p.ProtocolID = 0
	p.RegisteredDelivery = 1
	p.ReplaceIfPresentFlag = 0
	p.EsmClass = 0
	return p, nil
}

func (s *SMPPSender) resolve(seq int32, out submitOutcome) {
	if ch, ok := s.pending.Load(seq); ok {
		select {
		case ch.(chan submitOutcome) <- out:
		default:
		}
	}
}

func (s *SMPPSender) handleReceivedPduRequest(p pdu.PDU) (pdu.PDU, bool) {
	switch pd := p.(type) {
	case *pdu.EnquireLink:
		return pd.GetResponse(), false
	case *pdu.Unbind:
		slog.Info("Received Unbind request from SMSC")
		s.status.Store(codes.StatusUnbinding)
		return pd.GetResponse(), false
	case *pdu.DeliverSM:
		// Delivery receipts are tracked by the platform.
		return pd.GetResponse(), false
	}
	return nil, false
}

func (s *SMPPSender) handleExpectedPduResponse(response gosmpp.Response) {
	resp, ok := response.PDU.(*pdu.SubmitSMResp)
	if !ok {
		return
	}
	seq := response.OriginalRequest.PDU.GetSequenceNumber()
	status := resp.GetHeader().CommandStatus
	if status != data.ESME_ROK {
		s.resolve(seq, submitOutcome{err: fmt.Errorf("submit_sm rejected with status 0x%08X", uint32(status))})
		return
	}
	s.resolve(seq, submitOutcome{messageID: resp.MessageID})
}

func (s *SMPPSender) handleExpiredPduRequest(p pdu.PDU) bool {
	if _, ok := p.(*pdu.EnquireLink); ok {
		slog.Error("EnquireLink expired, connection likely stale")
		return true
	}
	s.resolve(p.GetSequenceNumber(), submitOutcome{err: ErrSubmitTimeout})
	return false
}

func (s *SMPPSender) handleClosePduRequest(p pdu.PDU) {
	s.resolve(p.GetSequenceNumber(), submitOutcome{err: ErrNotConnected})
}

func (s *SMPPSender) onSubmitError(p pdu.PDU, err error) {
	slog.Warn("gosmpp OnSubmitError callback triggered", slog.Any("error", err))
	s.resolve(p.GetSequenceNumber(), submitOutcome{err: err})
}

func (s *SMPPSender) onReceivingError(err error) {
	slog.Error("gosmpp OnReceivingError callback triggered", slog.Any("error", err))
}

func (s *SMPPSender) onRebindingError(err error) {
	slog.Error("gosmpp OnRebindingError callback triggered", slog.Any("error", err))
}

func (s *SMPPSender) onClosed(state gosmpp.State) {
	slog.Warn("gosmpp OnClosed callback triggered", slog.String("final_state", state.String()))
	s.status.Store(codes.StatusDisconnected)
}
