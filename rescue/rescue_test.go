package rescue

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
)

// fakeCard answers APDUs from a queue and records what it was sent.
type fakeCard struct {
	sent    [][]byte
	replies [][]byte
	err     error
	closed  int
}

func (f *fakeCard) Transmit(apdu []byte) ([]byte, error) {
	f.sent = append(f.sent, append([]byte(nil), apdu...))
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return []byte{0x6F, 0x00}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeCard) Close() error {
	f.closed++
	return nil
}

func (f *fakeCard) reply(r ...[]byte) *fakeCard {
	f.replies = append(f.replies, r...)
	return f
}

func testClient(card *fakeCard) (*Client, *int) {
	connects := 0
	c := New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithConnector(func() (Session, error) {
			connects++
			return card, nil
		}),
	)
	return c, &connects
}

var (
	ok          = []byte{0x90, 0x00}
	selectReply = []byte{0x6F, 0x10, 0x07, 0x02, 0xE6, 0x61, 0x44, 0x03, 0x1B, 0x2C, 0x3D, 0x4E, 0x90, 0x00}
)

func withOK(data ...byte) []byte { return append(data, ok...) }

func TestEncodeTLVOrder(t *testing.T) {
	in := pico.AppConfigInput{
		VID:               lo.ToPtr("2E8A"),
		PID:               lo.ToPtr("10FE"),
		ProductName:       lo.ToPtr("Key"),
		LedGPIO:           lo.ToPtr(uint8(25)),
		LedBrightness:     lo.ToPtr(uint8(8)),
		TouchTimeout:      lo.ToPtr(uint8(15)),
		LedDriver:         lo.ToPtr(uint8(3)),
		LedDimmable:       lo.ToPtr(true),
		PowerCycleOnReset: lo.ToPtr(false),
		LedSteady:         lo.ToPtr(false),
		EnableSecp256k1:   lo.ToPtr(true),
	}
	tlv, err := EncodeTLV(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x04, 0x2E, 0x8A, 0x10, 0xFE,
		0x04, 0x01, 25,
		0x05, 0x01, 8,
		0x08, 0x01, 15,
		0x06, 0x02, 0x00, 0x06,
		0x0A, 0x04, 0x00, 0x00, 0x00, 0x08,
		0x0C, 0x01, 3,
		0x09, 0x04, 'K', 'e', 'y', 0x00,
	}, tlv)
}

func TestEncodeTLVPartial(t *testing.T) {
	tlv, err := EncodeTLV(pico.AppConfigInput{
		VID:          lo.ToPtr("2E8A"),
		TouchTimeout: lo.ToPtr(uint8(30)),
		ProductName:  lo.ToPtr(""),
		LedSteady:    lo.ToPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x01, 30}, tlv)
}

func TestEncodeTLVErrors(t *testing.T) {
	_, err := EncodeTLV(pico.AppConfigInput{VID: lo.ToPtr("xyz"), PID: lo.ToPtr("10FE")})
	require.Error(t, err)
	assert.True(t, pferr.Is(err, pferr.KindIo))
	assert.Contains(t, err.Error(), "Invalid VID")

	_, err = EncodeTLV(pico.AppConfigInput{VID: lo.ToPtr("2E8A"), PID: lo.ToPtr("123456")})
	assert.Contains(t, err.Error(), "Invalid PID")

	name := "0123456789012345678901234567890" // 31 bytes, fits with the NUL
	_, err = EncodeTLV(pico.AppConfigInput{ProductName: lo.ToPtr(name)})
	require.NoError(t, err)

	_, err = EncodeTLV(pico.AppConfigInput{ProductName: lo.ToPtr(name + "x")})
	require.Error(t, err)
	assert.True(t, pferr.Is(err, pferr.KindIo))
	assert.Contains(t, err.Error(), "Product name too long")
}

func TestDecodeTLV(t *testing.T) {
	cfg := DecodeTLV([]byte{
		0x00, 0x04, 0x2E, 0x8A, 0x10, 0xFE,
		0x7F, 0x02, 0xAA, 0xBB, // unknown
		0x04, 0x01, 25,
		0x05, 0x01, 8,
		0x06, 0x02, 0x00, 0x0C,
		0x08, 0x01, 15,
		0x09, 0x05, 'P', 'i', 'c', 'o', 0x00,
		0x0A, 0x04, 0x00, 0x00, 0x00, 0x08,
		0x0C, 0x01, 2,
	})
	assert.Equal(t, "2E8A", cfg.VID)
	assert.Equal(t, "10FE", cfg.PID)
	assert.Equal(t, uint8(25), cfg.LedGPIO)
	assert.Equal(t, uint8(8), cfg.LedBrightness)
	assert.Equal(t, uint8(15), cfg.TouchTimeout)
	assert.Equal(t, "Pico", cfg.ProductName)
	assert.False(t, cfg.LedDimmable)
	assert.False(t, cfg.PowerCycleOnReset)
	assert.True(t, cfg.LedSteady)
	assert.True(t, cfg.EnableSecp256k1)
	require.NotNil(t, cfg.LedDriver)
	assert.Equal(t, uint8(2), *cfg.LedDriver)
}

func TestDecodeTLVTruncated(t *testing.T) {
	cfg := DecodeTLV([]byte{0x04, 0x01, 7, 0x05, 0x03, 1})
	assert.Equal(t, uint8(7), cfg.LedGPIO)
	assert.Zero(t, cfg.LedBrightness)

	assert.Equal(t, pico.AppConfig{}, DecodeTLV(nil))
	assert.Equal(t, pico.AppConfig{}, DecodeTLV([]byte{0x04}))
}

func TestTLVRoundTrip(t *testing.T) {
	want := pico.DefaultConfig()
	want.LedDimmable = true
	want.EnableSecp256k1 = true
	tlv, err := EncodeTLV(want.Input())
	require.NoError(t, err)
	assert.Equal(t, want, DecodeTLV(tlv))
}

func TestReadDeviceDetails(t *testing.T) {
	card := (&fakeCard{}).reply(
		selectReply,
		withOK(
			0x00, 0x00, 0x10, 0x00, // free
			0x00, 0x00, 0x30, 0x00, // used
			0x00, 0x10, 0x00, 0x00, // total
			0x00, 0x00, 0x00, 0x09,
			0x00, 0x40, 0x00, 0x00,
		),
		withOK(0x01, 0x00),
		withOK(0x04, 0x01, 25, 0x08, 0x01, 30),
	)
	c, _ := testClient(card)

	st, err := c.ReadDeviceDetails()
	require.NoError(t, err)
	assert.Equal(t, "E66144031B2C3D4E", st.Info.Serial)
	assert.Equal(t, "7.2", st.Info.FirmwareVersion)
	assert.Equal(t, uint32(12), st.Info.FlashUsed)
	assert.Equal(t, uint32(1024), st.Info.FlashTotal)
	assert.True(t, st.SecureBoot)
	assert.False(t, st.SecureLock)
	assert.Equal(t, uint8(25), st.Config.LedGPIO)
	assert.Equal(t, uint8(30), st.Config.TouchTimeout)
	assert.Equal(t, pico.MethodRescue, st.Method)
	assert.Equal(t, 1, card.closed)

	require.Len(t, card.sent, 4)
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x04, 0x08, 0xA0, 0x58, 0x3F, 0xC1, 0x9B, 0x7E, 0x4F, 0x21}, card.sent[0])
	assert.Equal(t, []byte{0x80, 0x1E, 0x02, 0x00, 0x00}, card.sent[1])
	assert.Equal(t, []byte{0x80, 0x1E, 0x03, 0x00, 0x00}, card.sent[2])
	assert.Equal(t, []byte{0x80, 0x1E, 0x01, 0x01, 0x00}, card.sent[3])
}

func TestReadDeviceDetailsShortResponses(t *testing.T) {
	card := (&fakeCard{}).reply(
		withOK(0x6F, 0x00, 0x05, 0x01),
		withOK(0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x08),
		[]byte{0x6A, 0x82},
		ok,
	)
	c, _ := testClient(card)

	st, err := c.ReadDeviceDetails()
	require.NoError(t, err)
	assert.Equal(t, pico.PlaceholderSerial, st.Info.Serial)
	assert.Equal(t, "5.1", st.Info.FirmwareVersion)
	assert.Zero(t, st.Info.FlashUsed)
	assert.Zero(t, st.Info.FlashTotal)
	assert.False(t, st.SecureBoot)
	assert.False(t, st.SecureLock)
}

func TestReadDeviceDetailsInvalidSelect(t *testing.T) {
	card := (&fakeCard{}).reply(withOK(0x6F, 0x00))
	c, _ := testClient(card)

	_, err := c.ReadDeviceDetails()
	require.Error(t, err)
	assert.True(t, pferr.Is(err, pferr.KindDevice))
	assert.Contains(t, err.Error(), "Invalid select response")
	assert.Equal(t, 1, card.closed)
}

func TestReadDeviceDetailsFailures(t *testing.T) {
	card := (&fakeCard{}).reply(selectReply, []byte{0x6A, 0x82})
	c, _ := testClient(card)
	_, err := c.ReadDeviceDetails()
	assert.Contains(t, err.Error(), "Failed to read flash")

	card = (&fakeCard{}).reply(selectReply, ok, ok, []byte{0x69, 0x85})
	c, _ = testClient(card)
	_, err = c.ReadDeviceDetails()
	require.Error(t, err)
	assert.True(t, pferr.Is(err, pferr.KindDevice))
	assert.Contains(t, err.Error(), "Failed to read config")
}

func TestAppletNotFound(t *testing.T) {
	card := (&fakeCard{}).reply([]byte{0x6A, 0x82})
	c, _ := testClient(card)

	_, err := c.ReadDeviceDetails()
	require.Error(t, err)
	assert.True(t, pferr.Is(err, pferr.KindDevice))
	assert.Contains(t, err.Error(), "Rescue Applet not found on device. Is it in FIDO mode?")
	assert.Equal(t, 1, card.closed)
}

func TestStatusWordMustBeExact(t *testing.T) {
	// 0x61xx would mean "more data" elsewhere, but only 9000 is success here
	card := (&fakeCard{}).reply([]byte{0x61, 0x10})
	c, _ := testClient(card)
	_, err := c.Reboot(false)
	assert.True(t, pferr.Is(err, pferr.KindDevice))
}

func TestTransmitErrorIsPcsc(t *testing.T) {
	card := &fakeCard{err: errors.New("reader unplugged")}
	c, _ := testClient(card)

	_, err := c.ReadDeviceDetails()
	require.Error(t, err)
	assert.True(t, pferr.Is(err, pferr.KindPcsc))
	assert.Contains(t, err.Error(), "reader unplugged")
}

func TestConnectorErrorPassesThrough(t *testing.T) {
	c := New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithConnector(func() (Session, error) { return nil, pferr.NoDevice() }),
	)
	_, err := c.ReadDeviceDetails()
	assert.True(t, pferr.IsNoDevice(err))
}

func TestWriteConfig(t *testing.T) {
	card := (&fakeCard{}).reply(selectReply, ok)
	c, _ := testClient(card)

	msg, err := c.WriteConfig(pico.AppConfigInput{VID: lo.ToPtr("2E8A"), PID: lo.ToPtr("10FE")})
	require.NoError(t, err)
	assert.Equal(t, "Configuration Applied Successfully", msg)
	require.Len(t, card.sent, 2)
	assert.Equal(t, []byte{0x80, 0x1C, 0x01, 0x00, 0x06, 0x00, 0x04, 0x2E, 0x8A, 0x10, 0xFE}, card.sent[1])
}

func TestWriteConfigNoChanges(t *testing.T) {
	card := &fakeCard{}
	c, connects := testClient(card)

	msg, err := c.WriteConfig(pico.AppConfigInput{})
	require.NoError(t, err)
	assert.Equal(t, "No changes to apply", msg)
	assert.Zero(t, *connects)
	assert.Empty(t, card.sent)
}

func TestWriteConfigEncodeErrorBeforeIO(t *testing.T) {
	card := &fakeCard{}
	c, connects := testClient(card)

	_, err := c.WriteConfig(pico.AppConfigInput{ProductName: lo.ToPtr("this product name is far too long to fit")})
	assert.True(t, pferr.Is(err, pferr.KindIo))
	assert.Zero(t, *connects)
}

func TestWriteConfigRejected(t *testing.T) {
	card := (&fakeCard{}).reply(selectReply, []byte{0x6A, 0x80})
	c, _ := testClient(card)

	_, err := c.WriteConfig(pico.AppConfigInput{LedGPIO: lo.ToPtr(uint8(2))})
	require.Error(t, err)
	assert.True(t, pferr.Is(err, pferr.KindDevice))
	assert.Contains(t, err.Error(), "Write failed: 6A 80")
}

func TestReboot(t *testing.T) {
	for _, tc := range []struct {
		bootloader bool
		p1         byte
	}{{false, 0x00}, {true, 0x01}} {
		card := (&fakeCard{}).reply(selectReply, ok)
		c, _ := testClient(card)

		msg, err := c.Reboot(tc.bootloader)
		require.NoError(t, err)
		assert.Equal(t, "Reboot command sent", msg)
		assert.Equal(t, []byte{0x80, 0x1F, tc.p1, 0x00, 0x00}, card.sent[1])
	}
}

func TestEnableSecureBoot(t *testing.T) {
	for _, tc := range []struct {
		lock bool
		p2   byte
	}{{false, 0x00}, {true, 0x01}} {
		card := (&fakeCard{}).reply(selectReply, ok)
		c, _ := testClient(card)

		msg, err := c.EnableSecureBoot(tc.lock)
		require.NoError(t, err)
		assert.Equal(t, "Secure Boot Enabled", msg)
		assert.Equal(t, []byte{0x80, 0x1D, 0x00, tc.p2, 0x00}, card.sent[1])
	}
}

func TestEnableSecureBootRejected(t *testing.T) {
	card := (&fakeCard{}).reply(selectReply, []byte{0x69, 0x82})
	c, _ := testClient(card)

	_, err := c.EnableSecureBoot(true)
	assert.Contains(t, err.Error(), "Secure Boot failed: 69 82")
}

func TestPickReader(t *testing.T) {
	readers := []string{"Generic Reader 00", "Pico Key [Rescue] 01"}

	r, found := pickReader(readers, "")
	assert.True(t, found)
	assert.Equal(t, "Generic Reader 00", r)

	r, found = pickReader(readers, "pico")
	assert.True(t, found)
	assert.Equal(t, "Pico Key [Rescue] 01", r)

	_, found = pickReader(readers, "yubico")
	assert.False(t, found)
}
