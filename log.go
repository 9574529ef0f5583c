// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"os"

	"github.com/go-kratos/kratos/v2/log"
)

// defaultLogger builds the error-filtered stdout logger Session and
// StreamSession fall back to when Options.Logger is nil.
func defaultLogger() *log.Helper {
	base := log.NewStdLogger(os.Stdout)
	filtered := log.NewFilter(base, log.FilterLevel(log.LevelError))
	return log.NewHelper(filtered)
}

func helperOrDefault(l log.Logger) *log.Helper {
	if l == nil {
		return defaultLogger()
	}
	return log.NewHelper(l)
}
