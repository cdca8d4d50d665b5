// Copyright 2024 Aaron Record.
// Use of this source code is governed by the GPLv3
// license that can be found in the LICENSE file.

package cleaner

// This file contains cloud account specific settings; change these
// if you want to use the cloud functionality on your own site.

// Queue names
const (
	queueBook   = "cleanerbook"
	queuePage   = "cleanerpage"
	queueReport = "cleanerreport"
)

// Storage bucket names
const (
	storageWip = "cleanerinprogress"
)
