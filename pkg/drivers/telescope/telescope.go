package telescope

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"indi/pkg/indi"

	log "github.com/sirupsen/logrus"
)

var ErrNotAligned = errors.New("telescope is not aligned")

// PropertyError reports a property the device does not expose in the shape
// an operation needs.
type PropertyError struct {
	Device   string
	Property string
	Err      error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Property, e.Err)
}

func (e *PropertyError) Unwrap() error {
	return e.Err
}

// Device is the view of an INDI device the controller works on.
// *indi.Device implements it.
type Device interface {
	Name() string
	Properties() *indi.Properties
	Session() uint64
	UpdateProperty(name string, v indi.Value) error
	RefreshProperties() error
}

// Status is a snapshot of the mount as last reported by the server.
type Status struct {
	Device     string  `json:"device"`
	Driver     string  `json:"driver,omitempty"`
	Connected  bool    `json:"connected"`
	RA         float64 `json:"ra"`
	Dec        float64 `json:"dec"`
	Alt        float64 `json:"alt"`
	Az         float64 `json:"az"`
	Slewing    bool    `json:"slewing"`
	Parked     bool    `json:"parked"`
	Positioned bool    `json:"positioned"`
	Orientated bool    `json:"orientated"`
	Aligned    bool    `json:"aligned"`
}

// Telescope drives a GOTO mount through its standard INDI properties.
//
// Every operation reads the named vector from the device, changes a private
// copy and proposes it to the server. The device's own copy only changes
// once the server answers.
type Telescope struct {
	device Device
	logger log.FieldLogger

	mu          sync.Mutex
	mode        string // last coordinate mode sent
	modeSession uint64 // connection session mode was sent in
	positioned  bool
	orientated  bool
}

func New(device Device, logger log.FieldLogger) *Telescope {
	if logger == nil {
		logger = log.WithField("component", "telescope")
	}
	return &Telescope{
		device: device,
		logger: logger.WithField("device", device.Name()),
	}
}

func (t *Telescope) Name() string {
	return t.device.Name()
}

// Device returns the device the controller drives.
func (t *Telescope) Device() Device {
	return t.device
}

// IsPositioned reports whether the site location was set.
func (t *Telescope) IsPositioned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positioned
}

// IsOrientated reports whether the mount was synced on a known position.
func (t *Telescope) IsOrientated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orientated
}

func (t *Telescope) IsAligned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positioned && t.orientated
}

func (t *Telescope) RefreshProperties() error {
	return t.device.RefreshProperties()
}

func (t *Telescope) Connect() error {
	if err := t.switchTo(propConnection, memberConnect); err != nil {
		return err
	}
	t.logger.Info("Connecting mount")
	return t.device.RefreshProperties()
}

func (t *Telescope) Disconnect() error {
	if err := t.switchTo(propConnection, memberDisconnect); err != nil {
		return err
	}
	t.logger.Info("Disconnecting mount")
	return t.device.RefreshProperties()
}

// SetSlewRate picks the mount rate at the same relative position in its
// list as rate is among the four coarse rates.
func (t *Telescope) SetSlewRate(rate SlewRate) error {
	if rate < SlewGuide || rate > SlewMax {
		return fmt.Errorf("invalid slew rate: %d", rate)
	}

	vec, err := t.vector(propSlewRate, indi.KindSwitch)
	if err != nil {
		return err
	}
	if vec.Len() == 0 {
		return t.propertyError(propSlewRate, fmt.Errorf("%w: no slew rates", indi.ErrMemberNotFound))
	}

	index := int(rate) * (vec.Len() - 1) / int(SlewMax)
	if err := vec.SwitchIndex(index); err != nil {
		return t.propertyError(propSlewRate, err)
	}
	t.logger.Debugf("Slew rate %s -> %s", rate, vec.Members[index].ValueName())
	return t.send(propSlewRate, vec)
}

// Goto slews to equatorial coordinates: ra in hours, dec in degrees.
func (t *Telescope) Goto(ra, dec float64, j2000 bool) error {
	if err := t.setMode(modeSlew); err != nil {
		return err
	}
	return t.setEquatorial(ra, dec, j2000)
}

// Track slews to the coordinates and keeps following them. The mount must
// be aligned first.
func (t *Telescope) Track(ra, dec float64, j2000 bool) error {
	if !t.IsAligned() {
		return ErrNotAligned
	}
	if err := t.setMode(modeTrack); err != nil {
		return err
	}
	return t.setEquatorial(ra, dec, j2000)
}

// Sync tells the mount it is pointing at the coordinates.
func (t *Telescope) Sync(ra, dec float64, j2000 bool) error {
	if err := t.setMode(modeSync); err != nil {
		return err
	}
	if err := t.setEquatorial(ra, dec, j2000); err != nil {
		return err
	}

	t.mu.Lock()
	t.orientated = true
	t.mu.Unlock()
	return nil
}

// SetOrientation is Sync under the name used for alignment.
func (t *Telescope) SetOrientation(ra, dec float64, j2000 bool) error {
	return t.Sync(ra, dec, j2000)
}

// GotoHorizontal slews to altitude and azimuth in degrees.
func (t *Telescope) GotoHorizontal(alt, az float64) error {
	if err := t.setMode(modeSlew); err != nil {
		return err
	}
	return t.setNumbers(propHorizontal, member{memberAlt, alt}, member{memberAz, az})
}

// ResetRotation points the mount back at altitude and azimuth zero.
func (t *Telescope) ResetRotation() error {
	return t.GotoHorizontal(0, 0)
}

// SetLocation sets the site: latitude and longitude in degrees, elevation
// in meters.
func (t *Telescope) SetLocation(lat, long, elev float64) error {
	err := t.setNumbers(propGeographic, member{memberLat, lat}, member{memberLong, long}, member{memberElev, elev})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.positioned = true
	t.mu.Unlock()
	return nil
}

// SetTime sets the mount clock. The offset is taken from the zone of now.
func (t *Telescope) SetTime(now time.Time) error {
	vec, err := t.vector(propTimeUTC, indi.KindText)
	if err != nil {
		return err
	}

	_, offset := now.Zone()
	if err := vec.SetText(memberUTC, now.UTC().Format("2006-01-02T15:04:05")); err != nil {
		return t.propertyError(propTimeUTC, err)
	}
	if err := vec.SetText(memberOffset, strconv.FormatFloat(float64(offset)/3600, 'f', 2, 64)); err != nil {
		return t.propertyError(propTimeUTC, err)
	}
	return t.send(propTimeUTC, vec)
}

// Rotate starts manual motion in dir. Diagonals move both axes; None stops.
// Both motion vectors must exist before anything is sent.
func (t *Telescope) Rotate(dir Direction) error {
	we, err := t.vector(propMotionWE, indi.KindSwitch)
	if err != nil {
		return err
	}
	ns, err := t.vector(propMotionNS, indi.KindSwitch)
	if err != nil {
		return err
	}

	for _, s := range []struct {
		vec  *indi.Vector
		prop string
		name string
		on   bool
	}{
		{we, propMotionWE, memberWest, dir.west()},
		{we, propMotionWE, memberEast, dir.east()},
		{ns, propMotionNS, memberNorth, dir.north()},
		{ns, propMotionNS, memberSouth, dir.south()},
	} {
		if err := s.vec.SetSwitch(s.name, s.on); err != nil {
			return t.propertyError(s.prop, err)
		}
	}

	if err := t.send(propMotionWE, we); err != nil {
		return err
	}
	return t.send(propMotionNS, ns)
}

// Stop ends manual motion.
func (t *Telescope) Stop() error {
	return t.Rotate(None)
}

// Abort stops every motion, slews included.
func (t *Telescope) Abort() error {
	return t.switchTo(propAbortMotion, memberAbort)
}

func (t *Telescope) Park() error {
	return t.switchTo(propPark, memberPark)
}

func (t *Telescope) Unpark() error {
	return t.switchTo(propPark, memberUnpark)
}

// Status reads the current state from the device properties. Properties the
// mount does not expose leave their fields zero.
func (t *Telescope) Status() Status {
	props := t.device.Properties()
	st := Status{Device: t.device.Name()}

	if vec, ok := props.Vector(propConnection); ok {
		if s, ok := vec.Switch(memberConnect); ok {
			st.Connected = s.On
		}
	}
	if vec, ok := props.Vector(propDriverInfo); ok {
		if txt, ok := vec.Text(memberDriverName); ok {
			st.Driver = txt.Value
		}
	}

	coords, ok := props.Vector(propJNow)
	if !ok {
		coords, ok = props.Vector(propJ2000)
	}
	if ok {
		if n, ok := coords.Number(memberRA); ok {
			st.RA = n.Value
		}
		if n, ok := coords.Number(memberDec); ok {
			st.Dec = n.Value
		}
		st.Slewing = coords.State == indi.StateBusy
	}

	if vec, ok := props.Vector(propHorizontal); ok {
		if n, ok := vec.Number(memberAlt); ok {
			st.Alt = n.Value
		}
		if n, ok := vec.Number(memberAz); ok {
			st.Az = n.Value
		}
	}
	if vec, ok := props.Vector(propPark); ok {
		if s, ok := vec.Switch(memberPark); ok {
			st.Parked = s.On
		}
	}

	t.mu.Lock()
	st.Positioned = t.positioned
	st.Orientated = t.orientated
	st.Aligned = t.positioned && t.orientated
	t.mu.Unlock()
	return st
}

// setMode sends the coordinate mode unless it was already sent during the
// current connection session.
func (t *Telescope) setMode(mode string) error {
	session := t.device.Session()

	t.mu.Lock()
	current := t.mode == mode && t.modeSession == session
	t.mu.Unlock()
	if current {
		return nil
	}

	if err := t.switchTo(propCoordSet, mode); err != nil {
		return err
	}

	t.mu.Lock()
	t.mode = mode
	t.modeSession = session
	t.mu.Unlock()
	return nil
}

func (t *Telescope) setEquatorial(ra, dec float64, j2000 bool) error {
	prop := propJNow
	if j2000 {
		prop = propJ2000
	}
	return t.setNumbers(prop, member{memberRA, ra}, member{memberDec, dec})
}

type member struct {
	name  string
	value float64
}

func (t *Telescope) setNumbers(prop string, members ...member) error {
	vec, err := t.vector(prop, indi.KindNumber)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := vec.SetNumber(m.name, m.value); err != nil {
			return t.propertyError(prop, err)
		}
	}
	return t.send(prop, vec)
}

func (t *Telescope) switchTo(prop, name string) error {
	vec, err := t.vector(prop, indi.KindSwitch)
	if err != nil {
		return err
	}
	if err := vec.SwitchTo(name); err != nil {
		return t.propertyError(prop, err)
	}
	return t.send(prop, vec)
}

// vector returns a private copy of the named vector.
func (t *Telescope) vector(prop string, kind indi.Kind) (*indi.Vector, error) {
	v, ok := t.device.Properties().Get(prop)
	if !ok {
		return nil, t.propertyError(prop, indi.ErrPropertyNotFound)
	}
	vec, ok := v.(*indi.Vector)
	if !ok || vec.Kind() != kind {
		return nil, t.propertyError(prop, fmt.Errorf("%w: want %s vector", indi.ErrKindMismatch, kind))
	}
	return vec.Clone().(*indi.Vector), nil
}

func (t *Telescope) send(prop string, vec *indi.Vector) error {
	if err := t.device.UpdateProperty(prop, vec); err != nil {
		return fmt.Errorf("failed to update %s: %w", prop, err)
	}
	return nil
}

func (t *Telescope) propertyError(prop string, err error) error {
	return &PropertyError{Device: t.device.Name(), Property: prop, Err: err}
}
