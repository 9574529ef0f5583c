// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"strconv"
	"strings"
)

// daysFromCivil converts a proleptic-Gregorian calendar date to a day
// count relative to 1970-01-01, using Howard Hinnant's days_from_civil
// algorithm. Valid for every year whose day count fits in an int64.
func daysFromCivil(y int64, m, d int) int64 {
	yp := y
	if m <= 2 {
		yp--
	}
	mp := int64(m)
	if m <= 2 {
		mp += 12
	}
	era := yp / 400
	if yp < 0 && yp%400 != 0 {
		era--
	}
	yoe := yp - era*400
	doy := (153*(mp-3)+2)/5 + int64(d) - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// civilFromDays is the inverse of daysFromCivil.
func civilFromDays(z int64) (y int64, m int, d int) {
	z += 719468
	era := z / 146097
	if z < 0 && z%146097 != 0 {
		era--
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	yr := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	day := doy - (153*mp+2)/5 + 1
	month := mp + 3
	if mp >= 10 {
		month = mp - 9
	}
	if month <= 2 {
		yr++
	}
	return yr, int(month), int(day)
}

// parseTimestampMillis parses "YYYY-MM-DD" or
// "YYYY-MM-DDTHH:MM:SS[.fff]Z" into milliseconds since the Unix epoch.
// ok is false for anything that doesn't match by position, in which
// case the caller falls through to the Timestamp string-fallback
// encoding.
func parseTimestampMillis(s string) (millis int64, ok bool) {
	if len(s) < 10 {
		return 0, false
	}
	if s[4] != '-' || s[7] != '-' {
		return 0, false
	}
	y, err1 := strconv.ParseInt(s[0:4], 10, 64)
	mo, err2 := strconv.Atoi(s[5:7])
	d, err3 := strconv.Atoi(s[8:10])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return 0, false
	}
	days := daysFromCivil(y, mo, d)
	if len(s) == 10 {
		return days * 86400000, true
	}
	if len(s) < 19 || (s[10] != 'T' && s[10] != ' ') || s[13] != ':' || s[16] != ':' {
		return 0, false
	}
	hh, err4 := strconv.Atoi(s[11:13])
	mm, err5 := strconv.Atoi(s[14:16])
	ss, err6 := strconv.Atoi(s[17:19])
	if err4 != nil || err5 != nil || err6 != nil || hh > 23 || mm > 59 || ss > 60 {
		return 0, false
	}
	millis = days*86400000 + int64(hh)*3600000 + int64(mm)*60000 + int64(ss)*1000

	rest := s[19:]
	rest = strings.TrimSuffix(rest, "Z")
	if strings.HasPrefix(rest, ".") {
		frac := rest[1:]
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		if ms, err := strconv.Atoi(frac); err == nil {
			millis += int64(ms)
		}
	}
	return millis, true
}

// formatTimestampMillis renders milliseconds since the Unix epoch back
// into "YYYY-MM-DDTHH:MM:SS.fffZ".
func formatTimestampMillis(millis int64) string {
	days := millis / 86400000
	rem := millis % 86400000
	if rem < 0 {
		rem += 86400000
		days--
	}
	y, mo, d := civilFromDays(days)
	hh := rem / 3600000
	rem %= 3600000
	mm := rem / 60000
	rem %= 60000
	ss := rem / 1000
	ms := rem % 1000

	var sb strings.Builder
	writePadded(&sb, y, 4)
	sb.WriteByte('-')
	writePadded(&sb, int64(mo), 2)
	sb.WriteByte('-')
	writePadded(&sb, int64(d), 2)
	sb.WriteByte('T')
	writePadded(&sb, hh, 2)
	sb.WriteByte(':')
	writePadded(&sb, mm, 2)
	sb.WriteByte(':')
	writePadded(&sb, ss, 2)
	sb.WriteByte('.')
	writePadded(&sb, ms, 3)
	sb.WriteByte('Z')
	return sb.String()
}

func writePadded(sb *strings.Builder, v int64, width int) {
	s := strconv.FormatInt(v, 10)
	for len(s) < width {
		s = "0" + s
	}
	sb.WriteString(s)
}
