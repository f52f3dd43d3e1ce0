package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/kptv/streamsync/internal/models"
)

var (
	reTvgName   = regexp.MustCompile(`tvg-name="([^"]*)"`)
	reTvgID     = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgLogo   = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reTvgChno   = regexp.MustCompile(`tvg-chno="([^"]*)"`)
	reGroup     = regexp.MustCompile(`group-title="([^"]*)"`)
	reCommaName = regexp.MustCompile(`,([^\n\r\t]*)$`)
)

var errNoName = errors.New("no name from EXTINF")

// fetchM3U downloads the provider's playlist and parses it.
func (f *Fetcher) fetchM3U(ctx context.Context, p *models.Provider) ([]models.StagingRecord, error) {
	body, err := f.get(ctx, p.URL)
	if err != nil {
		return nil, &FetchError{Provider: p.Name, Op: "get playlist", Err: err}
	}
	records, err := ParseM3U(bytes.NewReader(body), p.UserID, p.ID)
	if err != nil {
		return nil, &FetchError{Provider: p.Name, Op: "parse playlist", Err: err}
	}
	return records, nil
}

// ParseM3U reads an M3U playlist from r and returns normalized staging
// records for the given user/provider scope. Malformed entries (EXTINF
// without URL, URL without a name) are skipped, not fatal: large provider
// playlists routinely contain a few broken lines.
func ParseM3U(r io.Reader, userID, providerID int64) ([]models.StagingRecord, error) {
	var records []models.StagingRecord
	scanner := bufio.NewScanner(r)
	// Some providers emit very long EXTINF lines.
	const maxSize = 1024 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxSize)

	var extinf string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(strings.ToUpper(line), "#EXTM3U"):
			continue
		case strings.HasPrefix(strings.ToUpper(line), "#EXTINF"):
			extinf = line
		case strings.HasPrefix(line, "#"):
			continue
		default:
			// URL line
			if extinf == "" {
				continue
			}
			rec, err := recordFromEXTINF(extinf, line, userID, providerID)
			extinf = ""
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func recordFromEXTINF(extinf, url string, userID, providerID int64) (models.StagingRecord, error) {
	name := matchFirst(reTvgName, extinf)
	if name == "" {
		name = matchFirst(reCommaName, extinf)
	}
	if name == "" {
		return models.StagingRecord{}, errNoName
	}
	rec := models.StagingRecord{
		UserID:     userID,
		ProviderID: providerID,
		Type:       streamTypeFromURL(url),
		Name:       strings.TrimSpace(name),
		OrigName:   strings.TrimSpace(name),
		StreamURI:  url,
		TVGID:      matchFirstPtr(reTvgID, extinf),
		TVGGroup:   matchFirstPtr(reGroup, extinf),
		TVGLogo:    matchFirstPtr(reTvgLogo, extinf),
	}
	if s := matchFirst(reTvgChno, extinf); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			rec.ChannelNo = &n
		}
	}
	return rec, nil
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func matchFirstPtr(re *regexp.Regexp, s string) *string {
	v := matchFirst(re, s)
	if v == "" {
		return nil
	}
	return &v
}

// streamTypeFromURL classifies by URL shape: container extensions mean VOD,
// /series/ paths mean series, anything else is treated as live.
func streamTypeFromURL(url string) int16 {
	lower := strings.ToLower(url)
	if strings.Contains(lower, "/series/") {
		return models.StreamTypeSeries
	}
	for _, ext := range []string{".mp4", ".mkv", ".avi", ".m4v"} {
		if strings.HasSuffix(lower, ext) {
			return models.StreamTypeVOD
		}
	}
	if strings.Contains(lower, "/movie/") {
		return models.StreamTypeVOD
	}
	return models.StreamTypeLive
}
