package goble

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// mockHost is a testify mock of the Host interface.
type mockHost struct {
	mock.Mock
}

func (m *mockHost) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *mockHost) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

// fakeAdvertisement implements the ble.Advertisement methods the driver touches.
type fakeAdvertisement struct {
	ble.Advertisement
	name string
	addr string
}

func (a *fakeAdvertisement) LocalName() string { return a.name }
func (a *fakeAdvertisement) Addr() ble.Addr    { return ble.NewAddr(a.addr) }
func (a *fakeAdvertisement) RSSI() int         { return -42 }
func (a *fakeAdvertisement) Connectable() bool { return true }

// fakeClient implements the ble.Client methods the driver touches.
type fakeClient struct {
	ble.Client
	profile      *ble.Profile
	subscribed   []*ble.Characteristic
	indications  []bool
	handlers     []ble.NotificationHandler
	disconnected chan struct{}
	cancelled    int
}

func (c *fakeClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	return c.profile, nil
}

func (c *fakeClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.subscribed = append(c.subscribed, char)
	c.indications = append(c.indications, ind)
	c.handlers = append(c.handlers, h)
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeClient) CancelConnection() error {
	c.cancelled++
	return nil
}

type DriverTestSuite struct {
	suite.Suite
	logger          *logrus.Logger
	originalFactory func() (Host, error)
	host            *mockHost
}

func (s *DriverTestSuite) SetupSuite() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.DebugLevel)
	s.originalFactory = HostFactory
}

func (s *DriverTestSuite) SetupTest() {
	s.host = &mockHost{}
	HostFactory = func() (Host, error) { return s.host, nil }
}

func (s *DriverTestSuite) TearDownTest() {
	HostFactory = s.originalFactory
}

func (s *DriverTestSuite) TestNewDriver_HostFailureIsRadioUnavailable() {
	// GOAL: Verify a host that cannot be created surfaces as ErrRadioUnavailable
	//
	// TEST SCENARIO: factory fails with an unrecognized error → wrapped as radio unavailable
	HostFactory = func() (Host, error) { return nil, errors.New("permission denied") }

	drv, err := NewDriver(s.logger)

	s.Nil(drv)
	s.ErrorIs(err, device.ErrRadioUnavailable, "host creation failure MUST be ErrRadioUnavailable")
	s.Contains(err.Error(), "permission denied")
}

func (s *DriverTestSuite) TestScan_ConvertsAdvertisements() {
	// GOAL: Verify go-ble advertisements are converted to device.Advertisement
	//
	// TEST SCENARIO: host emits one advertisement → handler receives name and address
	s.host.On("Scan", mock.Anything, false, mock.Anything).
		Run(func(args mock.Arguments) {
			h := args.Get(2).(ble.AdvHandler)
			h(&fakeAdvertisement{name: "Baby Monitor", addr: "aa:bb:cc:dd:ee:ff"})
		}).
		Return(nil)

	drv, err := NewDriver(s.logger)
	s.Require().NoError(err)

	var got []device.Advertisement
	err = drv.Scan(context.Background(), func(adv device.Advertisement) {
		got = append(got, adv)
	})

	s.NoError(err)
	s.Require().Len(got, 1)
	s.Equal("Baby Monitor", got[0].LocalName())
	s.Equal("aa:bb:cc:dd:ee:ff", got[0].Addr())
	s.host.AssertExpectations(s.T())
}

func (s *DriverTestSuite) TestScan_NormalizesRadioErrors() {
	s.host.On("Scan", mock.Anything, false, mock.Anything).
		Return(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))

	drv, err := NewDriver(s.logger)
	s.Require().NoError(err)

	err = drv.Scan(context.Background(), func(device.Advertisement) {})
	s.ErrorIs(err, device.ErrRadioUnavailable)
}

func (s *DriverTestSuite) TestDial_WrapsFailureAsConnectionFailed() {
	s.host.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("timeout waiting for connection"))

	drv, err := NewDriver(s.logger)
	s.Require().NoError(err)

	client, err := drv.Dial(context.Background(), "aa:bb:cc:dd:ee:ff")
	s.Nil(client)
	s.ErrorIs(err, device.ErrConnectionFailed, "dial failures MUST be ErrConnectionFailed")
}

func (s *DriverTestSuite) TestDial_RejectsEmptyAddress() {
	drv, err := NewDriver(s.logger)
	s.Require().NoError(err)

	_, err = drv.Dial(context.Background(), "  ")
	s.ErrorContains(err, "address is empty")
	s.host.AssertNotCalled(s.T(), "Dial", mock.Anything, mock.Anything)
}

func (s *DriverTestSuite) TestClient_DiscoverAndSubscribe() {
	// GOAL: Verify profile conversion and notify/indicate selection
	//
	// TEST SCENARIO: profile with notify + indicate-only characteristics → normalized profile,
	// subscribe picks indication only where notify is absent, notifications reach the handler
	tempChar := &ble.Characteristic{UUID: ble.MustParse("2a1c"), Property: ble.CharIndicate}
	accelChar := &ble.Characteristic{
		UUID:     ble.MustParse("f000aa11-0451-4000-b000-000000000000"),
		Property: ble.CharNotify | ble.CharRead,
	}
	fc := &fakeClient{
		profile: &ble.Profile{Services: []*ble.Service{
			{UUID: ble.MustParse("f000aa10-0451-4000-b000-000000000000"), Characteristics: []*ble.Characteristic{accelChar}},
			{UUID: ble.UUID16(0x1809), Characteristics: []*ble.Characteristic{tempChar}},
		}},
		disconnected: make(chan struct{}),
	}
	s.host.On("Dial", mock.Anything, mock.Anything).Return(fc, nil)

	drv, err := NewDriver(s.logger)
	s.Require().NoError(err)
	client, err := drv.Dial(context.Background(), "aa:bb:cc:dd:ee:ff")
	s.Require().NoError(err)

	profile, err := client.DiscoverProfile()
	s.Require().NoError(err)
	s.Require().Len(profile.Services, 2)
	s.Equal("1809", profile.Services[0].UUID, "services MUST be sorted by normalized UUID")

	temp, err := profile.FindCharacteristic("1809", "2a1c")
	s.Require().NoError(err)
	s.True(temp.Indicate)
	s.False(temp.Notify)

	var received [][]byte
	s.Require().NoError(client.Subscribe("1809", "2A1C", func(b []byte) { received = append(received, b) }))
	s.Require().NoError(client.Subscribe("f000aa10-0451-4000-b000-000000000000", "f000aa11-0451-4000-b000-000000000000", func([]byte) {}))
	s.Equal([]bool{true, false}, fc.indications, "indicate MUST be used only for indicate-only characteristics")

	fc.handlers[0]([]byte{0x01})
	s.Equal([][]byte{{0x01}}, received)

	err = client.Subscribe("1809", "2a1e", func([]byte) {})
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)

	s.NoError(client.CancelConnection())
	s.Equal(1, fc.cancelled)
	s.Equal((<-chan struct{})(fc.disconnected), client.Disconnected())
}

func TestDriverTestSuite(t *testing.T) {
	suite.Run(t, new(DriverTestSuite))
}
