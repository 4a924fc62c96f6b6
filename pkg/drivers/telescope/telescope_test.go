package telescope

import (
	"errors"
	"testing"
	"time"

	"indi/pkg/indi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	property string
	value    *indi.Vector
}

type fakeDevice struct {
	props   *indi.Properties
	session uint64
	sent    []sent
	refresh int
	fail    error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{props: indi.NewProperties(), session: 1}
}

func (d *fakeDevice) Name() string                 { return "Telescope Simulator" }
func (d *fakeDevice) Properties() *indi.Properties { return d.props }
func (d *fakeDevice) Session() uint64              { return d.session }

func (d *fakeDevice) RefreshProperties() error {
	d.refresh++
	return nil
}

func (d *fakeDevice) UpdateProperty(name string, v indi.Value) error {
	if d.fail != nil {
		return d.fail
	}
	d.sent = append(d.sent, sent{name, v.(*indi.Vector)})
	return nil
}

func (d *fakeDevice) define(v *indi.Vector) {
	d.props.Set(v.Name, v)
}

func switches(names ...string) []*indi.Switch {
	out := make([]*indi.Switch, len(names))
	for i, n := range names {
		out[i] = &indi.Switch{Base: indi.Base{Name: n}}
	}
	return out
}

func numbers(names ...string) []*indi.Number {
	out := make([]*indi.Number, len(names))
	for i, n := range names {
		out[i] = &indi.Number{Base: indi.Base{Name: n}}
	}
	return out
}

// mountDevice exposes the standard properties of a telescope simulator.
func mountDevice() *fakeDevice {
	d := newFakeDevice()
	d.define(indi.NewSwitchVector(propConnection, switches(memberConnect, memberDisconnect)...))
	d.define(indi.NewSwitchVector(propCoordSet, switches(modeTrack, modeSlew, modeSync)...))
	d.define(indi.NewNumberVector(propJ2000, numbers(memberRA, memberDec)...))
	d.define(indi.NewNumberVector(propJNow, numbers(memberRA, memberDec)...))
	d.define(indi.NewNumberVector(propHorizontal, numbers(memberAlt, memberAz)...))
	d.define(indi.NewNumberVector(propGeographic, numbers(memberLat, memberLong, memberElev)...))
	d.define(indi.NewSwitchVector(propSlewRate, switches("1x", "2x", "4x", "8x", "16x", "32x", "64x")...))
	d.define(indi.NewSwitchVector(propMotionWE, switches(memberWest, memberEast)...))
	d.define(indi.NewSwitchVector(propMotionNS, switches(memberNorth, memberSouth)...))
	d.define(indi.NewSwitchVector(propAbortMotion, switches(memberAbort)...))
	d.define(indi.NewSwitchVector(propPark, switches(memberPark, memberUnpark)...))
	d.define(indi.NewTextVector(propTimeUTC,
		&indi.Text{Base: indi.Base{Name: memberUTC}},
		&indi.Text{Base: indi.Base{Name: memberOffset}},
	))
	return d
}

func activeSwitch(t *testing.T, v *indi.Vector) string {
	t.Helper()
	s, ok := v.ActiveSwitch()
	require.True(t, ok, "no switch on in %s", v.Name)
	return s.Name
}

func TestGotoSendsModeOnce(t *testing.T) {
	d := mountDevice()
	scope := New(d, nil)

	require.NoError(t, scope.Goto(10.5, 45.0, true))
	require.Len(t, d.sent, 2)
	assert.Equal(t, propCoordSet, d.sent[0].property)
	assert.Equal(t, modeSlew, activeSwitch(t, d.sent[0].value))

	assert.Equal(t, propJ2000, d.sent[1].property)
	ra, _ := d.sent[1].value.Number(memberRA)
	dec, _ := d.sent[1].value.Number(memberDec)
	assert.Equal(t, 10.5, ra.Value)
	assert.Equal(t, 45.0, dec.Value)

	require.NoError(t, scope.Goto(11, 46, false))
	require.Len(t, d.sent, 3, "mode is not resent")
	assert.Equal(t, propJNow, d.sent[2].property)
}

func TestGotoLeavesRegistryUntouched(t *testing.T) {
	d := mountDevice()
	require.NoError(t, New(d, nil).Goto(10.5, 45.0, true))

	vec, _ := d.props.Vector(propJ2000)
	ra, _ := vec.Number(memberRA)
	assert.Zero(t, ra.Value)
	mode, _ := d.props.Vector(propCoordSet)
	_, on := mode.ActiveSwitch()
	assert.False(t, on)
}

func TestModeResentAfterReconnect(t *testing.T) {
	d := mountDevice()
	scope := New(d, nil)

	require.NoError(t, scope.Goto(1, 2, true))
	d.session++
	require.NoError(t, scope.Goto(1, 2, true))

	require.Len(t, d.sent, 4)
	assert.Equal(t, propCoordSet, d.sent[2].property)
}

func TestModeChangesBetweenOperations(t *testing.T) {
	d := mountDevice()
	scope := New(d, nil)

	require.NoError(t, scope.Goto(1, 2, true))
	require.NoError(t, scope.Sync(1, 2, true))
	require.NoError(t, scope.GotoHorizontal(30, 120))

	var modes []string
	for _, s := range d.sent {
		if s.property == propCoordSet {
			modes = append(modes, activeSwitch(t, s.value))
		}
	}
	assert.Equal(t, []string{modeSlew, modeSync, modeSlew}, modes)

	last := d.sent[len(d.sent)-1]
	assert.Equal(t, propHorizontal, last.property)
	alt, _ := last.value.Number(memberAlt)
	assert.Equal(t, 30.0, alt.Value)
}

func TestFailedModeSendIsNotRemembered(t *testing.T) {
	d := mountDevice()
	scope := New(d, nil)

	d.fail = indi.ErrNotConnected
	assert.ErrorIs(t, scope.Goto(1, 2, true), indi.ErrNotConnected)

	d.fail = nil
	require.NoError(t, scope.Goto(1, 2, true))
	require.Len(t, d.sent, 2)
	assert.Equal(t, propCoordSet, d.sent[0].property)
}

func TestAlignment(t *testing.T) {
	d := mountDevice()
	scope := New(d, nil)

	assert.ErrorIs(t, scope.Track(5, 5, true), ErrNotAligned)
	assert.Empty(t, d.sent)

	require.NoError(t, scope.SetLocation(48.1, 11.5, 520))
	assert.True(t, scope.IsPositioned())
	assert.False(t, scope.IsAligned())

	require.NoError(t, scope.SetOrientation(5.5, 20, true))
	assert.True(t, scope.IsOrientated())
	assert.True(t, scope.IsAligned())

	require.NoError(t, scope.Track(6, 21, false))
	last := d.sent[len(d.sent)-1]
	assert.Equal(t, propJNow, last.property)
	prev := d.sent[len(d.sent)-2]
	assert.Equal(t, modeTrack, activeSwitch(t, prev.value))

	geo := d.sent[0].value
	elev, _ := geo.Number(memberElev)
	assert.Equal(t, 520.0, elev.Value)
}

func TestMissingProperty(t *testing.T) {
	d := newFakeDevice()
	scope := New(d, nil)

	err := scope.Goto(1, 2, true)
	var perr *PropertyError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, propCoordSet, perr.Property)
	assert.Equal(t, "Telescope Simulator", perr.Device)
	assert.ErrorIs(t, err, indi.ErrPropertyNotFound)
	assert.Empty(t, d.sent)

	assert.ErrorIs(t, scope.SetLocation(1, 2, 3), indi.ErrPropertyNotFound)
	assert.False(t, scope.IsPositioned())
}

func TestWrongKind(t *testing.T) {
	d := newFakeDevice()
	d.define(indi.NewTextVector(propPark, &indi.Text{Base: indi.Base{Name: memberPark}}))

	err := New(d, nil).Park()
	assert.ErrorIs(t, err, indi.ErrKindMismatch)
	var perr *PropertyError
	assert.True(t, errors.As(err, &perr))
}

func TestMissingMember(t *testing.T) {
	d := mountDevice()
	d.define(indi.NewNumberVector(propGeographic, numbers(memberLat, memberLong)...))

	err := New(d, nil).SetLocation(1, 2, 3)
	assert.ErrorIs(t, err, indi.ErrMemberNotFound)
	assert.Empty(t, d.sent)
}

func TestRotate(t *testing.T) {
	tests := []struct {
		dir                      Direction
		west, east, north, south bool
	}{
		{dir: None},
		{dir: North, north: true},
		{dir: South, south: true},
		{dir: East, east: true},
		{dir: West, west: true},
		{dir: NorthEast, north: true, east: true},
		{dir: NorthWest, north: true, west: true},
		{dir: SouthEast, south: true, east: true},
		{dir: SouthWest, south: true, west: true},
	}

	for _, tc := range tests {
		t.Run(tc.dir.String(), func(t *testing.T) {
			d := mountDevice()
			require.NoError(t, New(d, nil).Rotate(tc.dir))
			require.Len(t, d.sent, 2)

			we, ns := d.sent[0], d.sent[1]
			assert.Equal(t, propMotionWE, we.property)
			assert.Equal(t, propMotionNS, ns.property)

			for _, c := range []struct {
				vec  *indi.Vector
				name string
				want bool
			}{
				{we.value, memberWest, tc.west},
				{we.value, memberEast, tc.east},
				{ns.value, memberNorth, tc.north},
				{ns.value, memberSouth, tc.south},
			} {
				s, ok := c.vec.Switch(c.name)
				require.True(t, ok)
				assert.Equal(t, c.want, s.On, c.name)
			}
		})
	}
}

func TestRotateNeedsBothAxes(t *testing.T) {
	d := mountDevice()
	d.props.Delete(propMotionNS)

	assert.ErrorIs(t, New(d, nil).Rotate(North), indi.ErrPropertyNotFound)
	assert.Empty(t, d.sent, "nothing is sent when an axis is missing")
}

func TestSetSlewRate(t *testing.T) {
	tests := []struct {
		rate     SlewRate
		expected string
	}{
		{SlewGuide, "1x"},
		{SlewCentering, "4x"},
		{SlewFind, "16x"},
		{SlewMax, "64x"},
	}

	for _, tc := range tests {
		t.Run(tc.rate.String(), func(t *testing.T) {
			d := mountDevice()
			require.NoError(t, New(d, nil).SetSlewRate(tc.rate))
			require.Len(t, d.sent, 1)
			assert.Equal(t, tc.expected, activeSwitch(t, d.sent[0].value))
		})
	}

	assert.Error(t, New(mountDevice(), nil).SetSlewRate(SlewRate(7)))
}

func TestConnectAndPark(t *testing.T) {
	d := mountDevice()
	scope := New(d, nil)

	require.NoError(t, scope.Connect())
	require.NoError(t, scope.Park())
	require.NoError(t, scope.Unpark())
	require.NoError(t, scope.Abort())
	require.NoError(t, scope.Disconnect())

	var got []string
	for _, s := range d.sent {
		got = append(got, s.property+"="+activeSwitch(t, s.value))
	}
	assert.Equal(t, []string{
		"CONNECTION=CONNECT",
		"TELESCOPE_PARK=PARK",
		"TELESCOPE_PARK=UNPARK",
		"TELESCOPE_ABORT_MOTION=ABORT",
		"CONNECTION=DISCONNECT",
	}, got)
	assert.Equal(t, 2, d.refresh)
}

func TestSetTime(t *testing.T) {
	d := mountDevice()
	zone := time.FixedZone("CEST", 2*3600)
	now := time.Date(2024, 6, 1, 22, 30, 0, 0, zone)

	require.NoError(t, New(d, nil).SetTime(now))
	require.Len(t, d.sent, 1)
	utc, _ := d.sent[0].value.Text(memberUTC)
	offset, _ := d.sent[0].value.Text(memberOffset)
	assert.Equal(t, "2024-06-01T20:30:00", utc.Value)
	assert.Equal(t, "2.00", offset.Value)
}

func TestStatus(t *testing.T) {
	d := mountDevice()
	conn, _ := d.props.Vector(propConnection)
	conn = conn.Clone().(*indi.Vector)
	require.NoError(t, conn.SwitchTo(memberConnect))
	d.define(conn)

	coords := indi.NewNumberVector(propJNow,
		&indi.Number{Base: indi.Base{Name: memberRA}, Value: 5.5},
		&indi.Number{Base: indi.Base{Name: memberDec}, Value: -20},
	)
	coords.State = indi.StateBusy
	d.define(coords)
	d.define(indi.NewTextVector(propDriverInfo, &indi.Text{Base: indi.Base{Name: memberDriverName}, Value: "Telescope Simulator"}))

	st := New(d, nil).Status()
	assert.True(t, st.Connected)
	assert.True(t, st.Slewing)
	assert.Equal(t, 5.5, st.RA)
	assert.Equal(t, -20.0, st.Dec)
	assert.Equal(t, "Telescope Simulator", st.Driver)
	assert.False(t, st.Parked)
	assert.False(t, st.Aligned)
}

func TestWithRealDevice(t *testing.T) {
	conn := indi.NewConnection("127.0.0.1", indi.DefaultPort, indi.Config{})
	dev := conn.GetOrCreateDevice("Mount")
	dev.Properties().Set(propPark, indi.NewSwitchVector(propPark, switches(memberPark, memberUnpark)...))

	err := New(dev, nil).Park()
	assert.ErrorIs(t, err, indi.ErrNotConnected)
}

func TestParseNames(t *testing.T) {
	for d := None; d <= SouthWest; d++ {
		got, ok := ParseDirection(d.String())
		assert.True(t, ok)
		assert.Equal(t, d, got)
	}
	_, ok := ParseDirection("Up")
	assert.False(t, ok)

	r, ok := ParseSlewRate("Find")
	assert.True(t, ok)
	assert.Equal(t, SlewFind, r)
}
