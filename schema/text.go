package schema

import (
	"errors"
	"math"
	"strconv"
	"time"
)

// ============================================================
// ISO-8601 text forms
// ============================================================
//
// Datetimes, dates, times and durations travel as ISO-8601 strings in JSON
// and in the string fallbacks of the other formats. Parsing is strict:
// anything not matching the grammar is rejected.

var errBadTime = errors.New("invalid ISO-8601 value")

// AppendDateTime appends the RFC 3339 form of t. UTC is written as `Z`,
// naive values without an offset. Fractional seconds keep nanosecond
// precision with trailing zeros trimmed.
func AppendDateTime(dst []byte, t time.Time) []byte {
	dst = appendDate(dst, t.Year(), int(t.Month()), t.Day())
	dst = append(dst, 'T')
	dst = appendClock(dst, t.Hour(), t.Minute(), t.Second(), t.Nanosecond())
	if IsNaive(t) {
		return dst
	}
	_, off := t.Zone()
	return appendOffset(dst, off)
}

// FormatDateTime returns the RFC 3339 form of t.
func FormatDateTime(t time.Time) string { return string(AppendDateTime(nil, t)) }

// FormatDate returns YYYY-MM-DD.
func FormatDate(d Date) string { return string(appendDate(nil, d.Year, int(d.Month), d.Day)) }

// FormatTimeOfDay returns HH:MM:SS[.fffffffff][offset].
func FormatTimeOfDay(t TimeOfDay) string {
	b := appendClock(nil, t.Hour, t.Minute, t.Second, t.Nanosecond)
	if t.Zone != nil {
		_, off := time.Date(2000, 1, 1, t.Hour, t.Minute, 0, 0, t.Zone).Zone()
		b = appendOffset(b, off)
	}
	return string(b)
}

func appendDate(dst []byte, y, m, d int) []byte {
	dst = appendPadded(dst, y, 4)
	dst = append(dst, '-')
	dst = appendPadded(dst, m, 2)
	dst = append(dst, '-')
	return appendPadded(dst, d, 2)
}

func appendClock(dst []byte, h, m, s, ns int) []byte {
	dst = appendPadded(dst, h, 2)
	dst = append(dst, ':')
	dst = appendPadded(dst, m, 2)
	dst = append(dst, ':')
	dst = appendPadded(dst, s, 2)
	return appendFraction(dst, ns)
}

func appendFraction(dst []byte, ns int) []byte {
	if ns == 0 {
		return dst
	}
	var buf [9]byte
	for i := 8; i >= 0; i-- {
		buf[i] = byte('0' + ns%10)
		ns /= 10
	}
	n := 9
	for n > 0 && buf[n-1] == '0' {
		n--
	}
	dst = append(dst, '.')
	return append(dst, buf[:n]...)
}

func appendOffset(dst []byte, off int) []byte {
	if off == 0 {
		return append(dst, 'Z')
	}
	if off < 0 {
		dst = append(dst, '-')
		off = -off
	} else {
		dst = append(dst, '+')
	}
	dst = appendPadded(dst, off/3600, 2)
	dst = append(dst, ':')
	return appendPadded(dst, off%3600/60, 2)
}

func appendPadded(dst []byte, v, width int) []byte {
	s := strconv.Itoa(v)
	for i := len(s); i < width; i++ {
		dst = append(dst, '0')
	}
	return append(dst, s...)
}

// ParseDateTime parses YYYY-MM-DD[T ]HH:MM[:SS[.f]][Z|±HH[:MM]].
// Values without an offset come back in the Naive location.
func ParseDateTime(s string) (time.Time, error) {
	if len(s) < 16 {
		return time.Time{}, errBadTime
	}
	d, err := ParseDate(s[:10])
	if err != nil {
		return time.Time{}, err
	}
	if c := s[10]; c != 'T' && c != 't' && c != ' ' {
		return time.Time{}, errBadTime
	}
	tod, err := ParseTimeOfDay(s[11:])
	if err != nil {
		return time.Time{}, err
	}
	loc := tod.Zone
	if loc == nil {
		loc = Naive
	}
	return time.Date(d.Year, d.Month, d.Day, tod.Hour, tod.Minute, tod.Second, tod.Nanosecond, loc), nil
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return Date{}, errBadTime
	}
	y, ok1 := digits(s[0:4])
	m, ok2 := digits(s[5:7])
	d, ok3 := digits(s[8:10])
	if !ok1 || !ok2 || !ok3 {
		return Date{}, errBadTime
	}
	out := Date{Year: y, Month: time.Month(m), Day: d}
	if !out.Valid() {
		return Date{}, errBadTime
	}
	return out, nil
}

// ParseTimeOfDay parses HH:MM[:SS[.f]][Z|±HH[:MM]].
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if len(s) < 5 || s[2] != ':' {
		return t, errBadTime
	}
	var ok bool
	if t.Hour, ok = digits(s[0:2]); !ok {
		return t, errBadTime
	}
	if t.Minute, ok = digits(s[3:5]); !ok {
		return t, errBadTime
	}
	s = s[5:]
	if len(s) >= 3 && s[0] == ':' {
		if t.Second, ok = digits(s[1:3]); !ok {
			return t, errBadTime
		}
		s = s[3:]
		if len(s) > 0 && (s[0] == '.' || s[0] == ',') {
			i := 1
			ns, scale := 0, 100000000
			for i < len(s) && s[i] >= '0' && s[i] <= '9' {
				ns += int(s[i]-'0') * scale
				scale /= 10
				i++
			}
			if i == 1 {
				return t, errBadTime
			}
			t.Nanosecond = ns
			s = s[i:]
		}
	}
	if !t.Valid() {
		return t, errBadTime
	}
	if s == "" {
		return t, nil
	}
	loc, err := parseOffset(s)
	if err != nil {
		return t, err
	}
	t.Zone = loc
	return t, nil
}

func parseOffset(s string) (*time.Location, error) {
	if s == "Z" || s == "z" {
		return time.UTC, nil
	}
	if len(s) < 3 || (s[0] != '+' && s[0] != '-') {
		return nil, errBadTime
	}
	h, ok := digits(s[1:3])
	if !ok {
		return nil, errBadTime
	}
	m := 0
	switch rest := s[3:]; {
	case rest == "":
	case len(rest) == 3 && rest[0] == ':':
		if m, ok = digits(rest[1:]); !ok {
			return nil, errBadTime
		}
	case len(rest) == 2:
		if m, ok = digits(rest); !ok {
			return nil, errBadTime
		}
	default:
		return nil, errBadTime
	}
	if h > 23 || m > 59 {
		return nil, errBadTime
	}
	off := h*3600 + m*60
	if s[0] == '-' {
		off = -off
	}
	if off == 0 {
		return time.UTC, nil
	}
	return time.FixedZone("", off), nil
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, len(s) > 0
}

// ============================================================
// Durations
// ============================================================

// FormatDuration returns the ISO-8601 form [-]P[nD][T[n[.f]S]], PT0S for
// zero.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	var b []byte
	u := uint64(d)
	if d < 0 {
		b = append(b, '-')
		u = uint64(-d)
	}
	b = append(b, 'P')
	const day = uint64(24 * time.Hour)
	if days := u / day; days > 0 {
		b = strconv.AppendUint(b, days, 10)
		b = append(b, 'D')
		u %= day
	}
	if u > 0 {
		b = append(b, 'T')
		b = strconv.AppendUint(b, u/uint64(time.Second), 10)
		b = appendFraction(b, int(u%uint64(time.Second)))
		b = append(b, 'S')
	}
	return string(b)
}

// ParseDuration parses [-+]P[nW][nD][T[nH][nM][n[.f]S]]. Years and months
// are rejected since their length is not fixed.
func ParseDuration(s string) (time.Duration, error) {
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if len(s) < 2 || (s[0] != 'P' && s[0] != 'p') {
		return 0, errBadTime
	}
	s = s[1:]
	var total uint64
	inTime := false
	seen := false
	for s != "" {
		if s[0] == 'T' || s[0] == 't' {
			if inTime {
				return 0, errBadTime
			}
			inTime = true
			s = s[1:]
			if s == "" {
				return 0, errBadTime
			}
			continue
		}
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		n, err := strconv.ParseUint(s[:i], 10, 64)
		if err != nil {
			return 0, errBadTime
		}
		frac := 0
		if i < len(s) && (s[i] == '.' || s[i] == ',') {
			j, scale := i+1, 100000000
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				frac += int(s[j]-'0') * scale
				scale /= 10
				j++
			}
			if j == i+1 {
				return 0, errBadTime
			}
			i = j
		}
		if i == len(s) {
			return 0, errBadTime
		}
		var scale uint64
		switch unit := s[i] | 0x20; {
		case !inTime && unit == 'w':
			scale = uint64(7 * 24 * time.Hour)
		case !inTime && unit == 'd':
			scale = uint64(24 * time.Hour)
		case inTime && unit == 'h':
			scale = uint64(time.Hour)
		case inTime && unit == 'm':
			scale = uint64(time.Minute)
		case inTime && unit == 's':
			scale = uint64(time.Second)
		default:
			return 0, errBadTime
		}
		if frac != 0 && scale != uint64(time.Second) {
			return 0, errBadTime
		}
		if n > (math.MaxInt64-total)/scale {
			return 0, errBadTime
		}
		total += n*scale + uint64(frac)
		if total > math.MaxInt64 {
			return 0, errBadTime
		}
		seen = true
		s = s[i+1:]
	}
	if !seen {
		return 0, errBadTime
	}
	d := time.Duration(total)
	if neg {
		d = -d
	}
	return d, nil
}
