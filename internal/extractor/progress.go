package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// ProgressUpdate is one parsed progress line from the extractor's output.
type ProgressUpdate struct {
	Progress        float64
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64 // KiB/s
	PendingTime     *float64
	Complete        bool
}

// Matches lines like:
//
//	[download]  45.2% of ~  85.48MiB at  831.64KiB/s ETA 01:01 (frag 101/247)
//	[download]  45.2% of 150.00MiB at 2.50MiB/s ETA 00:35
var progressPattern = regexp.MustCompile(
	`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?\s*(\d+\.?\d*)\s*(Ki?B|Mi?B|Gi?B)\s+at\s+(\d+\.?\d*)\s*(Ki?B|Mi?B|Gi?B)/s\s+ETA\s+(\d+:\d+(?::\d+)?)`,
)

// The unit token is honored literally: binary prefixes are powers of 1024,
// decimal ones powers of 1000.
var unitMultipliers = map[string]float64{
	"KiB": 1024,
	"KB":  1000,
	"MiB": 1024 * 1024,
	"MB":  1000 * 1000,
	"GiB": 1024 * 1024 * 1024,
	"GB":  1000 * 1000 * 1000,
}

// ParseProgress interprets a single extractor output line. Returns nil when
// the line carries no progress information.
func ParseProgress(line string) *ProgressUpdate {
	if m := progressPattern.FindStringSubmatch(line); m != nil {
		progress, _ := strconv.ParseFloat(m[1], 64)
		sizeValue, _ := strconv.ParseFloat(m[2], 64)
		speedValue, _ := strconv.ParseFloat(m[4], 64)

		totalBytes := int64(sizeValue * unitMultiplier(m[3]))
		speedBytes := speedValue * unitMultiplier(m[5])
		downloaded := int64(float64(totalBytes) * progress / 100)

		return &ProgressUpdate{
			Progress:        progress,
			DownloadedBytes: downloaded,
			TotalBytes:      totalBytes,
			Speed:           speedBytes / 1024,
			PendingTime:     parseETA(m[6]),
		}
	}

	if strings.Contains(line, "[download] 100%") || strings.Contains(line, "has already been downloaded") {
		return &ProgressUpdate{Progress: 100, Complete: true}
	}

	return nil
}

func unitMultiplier(unit string) float64 {
	if m, ok := unitMultipliers[unit]; ok {
		return m
	}
	return 1
}

// parseETA converts H:MM:SS, MM:SS or SS to seconds.
func parseETA(eta string) *float64 {
	parts := strings.Split(eta, ":")
	var secs float64
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		secs = secs*60 + float64(n)
	}
	return &secs
}

const destinationPrefix = "[download] Destination:"

// ParseDestination extracts the target filename from a Destination line, or
// returns false.
func ParseDestination(line string) (string, bool) {
	i := strings.Index(line, destinationPrefix)
	if i < 0 {
		return "", false
	}
	path := strings.TrimSpace(line[i+len(destinationPrefix):])
	if path == "" {
		return "", false
	}
	return path, true
}
