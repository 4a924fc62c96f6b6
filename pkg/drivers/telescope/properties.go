package telescope

// Standard INDI telescope property names.
const (
	propConnection  = "CONNECTION"
	propCoordSet    = "ON_COORD_SET"
	propJ2000       = "EQUATORIAL_COORD"     // J2000 epoch
	propJNow        = "EQUATORIAL_EOD_COORD" // epoch of date
	propHorizontal  = "HORIZONTAL_COORD"
	propSlewRate    = "TELESCOPE_SLEW_RATE"
	propMotionWE    = "TELESCOPE_MOTION_WE"
	propMotionNS    = "TELESCOPE_MOTION_NS"
	propAbortMotion = "TELESCOPE_ABORT_MOTION"
	propPark        = "TELESCOPE_PARK"
	propGeographic  = "GEOGRAPHIC_COORD"
	propTimeUTC     = "TIME_UTC"
	propDriverInfo  = "DRIVER_INFO"
)

// Members.
const (
	memberConnect    = "CONNECT"
	memberDisconnect = "DISCONNECT"
	memberRA         = "RA"
	memberDec        = "DEC"
	memberAlt        = "ALT"
	memberAz         = "AZ"
	memberLat        = "LAT"
	memberLong       = "LONG"
	memberElev       = "ELEV"
	memberUTC        = "UTC"
	memberOffset     = "OFFSET"
	memberWest       = "MOTION_WEST"
	memberEast       = "MOTION_EAST"
	memberNorth      = "MOTION_NORTH"
	memberSouth      = "MOTION_SOUTH"
	memberAbort      = "ABORT"
	memberPark       = "PARK"
	memberUnpark     = "UNPARK"
	memberDriverName = "DRIVER_NAME"
)

// Coordinate set modes.
const (
	modeSlew  = "SLEW"
	modeTrack = "TRACK"
	modeSync  = "SYNC"
)

// SlewRate is a coarse slew speed. Mounts advertise their own list of
// rates; the controller maps these onto it proportionally.
type SlewRate int

const (
	SlewGuide SlewRate = iota
	SlewCentering
	SlewFind
	SlewMax
)

func (r SlewRate) String() string {
	switch r {
	case SlewGuide:
		return "Guide"
	case SlewCentering:
		return "Centering"
	case SlewFind:
		return "Find"
	case SlewMax:
		return "Max"
	default:
		return "Unknown"
	}
}

// ParseSlewRate is the inverse of SlewRate.String.
func ParseSlewRate(s string) (SlewRate, bool) {
	for r := SlewGuide; r <= SlewMax; r++ {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// Direction is a manual motion direction. Diagonals move both axes.
type Direction int

const (
	None Direction = iota
	North
	South
	East
	West
	NorthEast
	NorthWest
	SouthEast
	SouthWest
)

var directionNames = [...]string{"None", "North", "South", "East", "West", "NorthEast", "NorthWest", "SouthEast", "SouthWest"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return "Unknown"
	}
	return directionNames[d]
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, bool) {
	for i, name := range directionNames {
		if name == s {
			return Direction(i), true
		}
	}
	return None, false
}

func (d Direction) west() bool  { return d == West || d == NorthWest || d == SouthWest }
func (d Direction) east() bool  { return d == East || d == NorthEast || d == SouthEast }
func (d Direction) north() bool { return d == North || d == NorthEast || d == NorthWest }
func (d Direction) south() bool { return d == South || d == SouthEast || d == SouthWest }
