package schema

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// ============================================================
// Value types
// ============================================================

// Naive is the location carried by datetimes that have no timezone
// component. Encoders write such values without an offset.
var Naive = time.FixedZone("", 0)

// IsNaive reports whether t has no timezone component.
func IsNaive(t time.Time) bool { return t.Location() == Naive }

// Date is a calendar date without a time or timezone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in its own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Valid reports whether d names a real calendar day in years 1-9999.
func (d Date) Valid() bool {
	if d.Year < 1 || d.Year > 9999 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	return d.Day <= daysIn(d.Month, d.Year)
}

// Compare orders dates chronologically.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	}
	return cmpInt(d.Day, o.Day)
}

func (d Date) String() string { return FormatDate(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) { return []byte(FormatDate(d)), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// TimeOfDay is a wall clock time with an optional timezone. A nil Zone
// means the time is naive.
type TimeOfDay struct {
	Hour       int
	Minute     int
	Second     int
	Nanosecond int
	Zone       *time.Location
}

// TimeOfDayOf returns the wall clock time of t, keeping its location
// unless t is naive.
func TimeOfDayOf(t time.Time) TimeOfDay {
	tod := TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Nanosecond: t.Nanosecond()}
	if !IsNaive(t) {
		tod.Zone = t.Location()
	}
	return tod
}

// Valid reports whether every component is in range.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60 &&
		t.Second >= 0 && t.Second < 60 && t.Nanosecond >= 0 && t.Nanosecond < 1e9
}

func (t TimeOfDay) String() string { return FormatTimeOfDay(t) }

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(FormatTimeOfDay(t)), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Ext is a MessagePack extension value.
type Ext struct {
	Code int8
	Data []byte
}

func (e Ext) String() string { return fmt.Sprintf("Ext(%d, %x)", e.Code, e.Data) }

// Raw holds an already encoded value. Encoders copy it through verbatim;
// decoders store the undecoded bytes of the value at that position.
type Raw []byte

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
	decimalType  = reflect.TypeFor[Decimal]()
	dateType     = reflect.TypeFor[Date]()
	timeOfDayTyp = reflect.TypeFor[TimeOfDay]()
	extType      = reflect.TypeFor[Ext]()
	rawType      = reflect.TypeFor[Raw]()
)

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func daysIn(m time.Month, year int) int {
	if m == time.February {
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	}
	return 31 - int((m-1)%7%2)
}
