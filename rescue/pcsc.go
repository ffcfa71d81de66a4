package rescue

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/ebfe/scard"

	"github.com/phoeagon/picoforge/pferr"
)

// Card abstracts APDU transmission for real PC/SC cards and test doubles.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Session is a connected card that must be closed after one operation.
type Session interface {
	Card
	Close() error
}

// Connector opens a new Session.
type Connector func() (Session, error)

// pcscSession wraps a PC/SC card connection.
type pcscSession struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
}

// ConnectPCSC returns a Connector using the first PC/SC reader whose name
// contains filter, or the first reader when filter is empty.
func ConnectPCSC(filter string, logger *slog.Logger) Connector {
	return func() (Session, error) {
		return connectPCSC(filter, logger)
	}
}

func connectPCSC(filter string, logger *slog.Logger) (Session, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		logger.Error("failed to establish PCSC context", "error", err)
		return nil, pferr.Pcsc(err)
	}

	readers, err := ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) || (err == nil && len(readers) == 0) {
		_ = ctx.Release()
		logger.Info("no smart card reader found")
		return nil, pferr.NoDevice()
	}
	if err != nil {
		_ = ctx.Release()
		return nil, pferr.Pcsc(err)
	}

	reader, ok := pickReader(readers, filter)
	if !ok {
		_ = ctx.Release()
		logger.Info("no smart card reader matches filter", "filter", filter, "readers", readers)
		return nil, pferr.NoDevice()
	}

	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		_ = ctx.Release()
		logger.Error("failed to connect to reader", "reader", reader, "error", err)
		return nil, pferr.Pcsc(err)
	}
	logger.Debug("connected to reader", "reader", reader)
	return &pcscSession{ctx: ctx, card: card, reader: reader}, nil
}

func pickReader(readers []string, filter string) (string, bool) {
	filter = strings.ToLower(filter)
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), filter) {
			return r, true
		}
	}
	return "", false
}

func (s *pcscSession) Transmit(apdu []byte) ([]byte, error) {
	return s.card.Transmit(apdu)
}

// Close disconnects the card and releases the PC/SC context.
func (s *pcscSession) Close() error {
	err := s.card.Disconnect(scard.LeaveCard)
	if rerr := s.ctx.Release(); err == nil {
		err = rerr
	}
	return err
}
