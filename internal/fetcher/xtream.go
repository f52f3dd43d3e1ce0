package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kptv/streamsync/internal/models"
)

// xtreamStream is the lenient shape of a player_api stream entry. Providers
// disagree on whether ids are numbers or strings, so those fields decode
// through interface{}.
type xtreamStream struct {
	Num                int         `json:"num"`
	Name               string      `json:"name"`
	StreamID           interface{} `json:"stream_id"`
	SeriesID           interface{} `json:"series_id"`
	EpgChannelID       interface{} `json:"epg_channel_id"`
	StreamIcon         string      `json:"stream_icon"`
	Cover              string      `json:"cover"`
	CategoryID         interface{} `json:"category_id"`
	ContainerExtension string      `json:"container_extension"`
}

// fetchXtream builds the catalog from player_api.php: auth handshake, then
// get_live_streams, get_vod_streams and get_series.
func (f *Fetcher) fetchXtream(ctx context.Context, p *models.Provider) ([]models.StagingRecord, error) {
	base := strings.TrimSuffix(p.URL, "/")
	creds := "username=" + url.QueryEscape(p.Username) + "&password=" + url.QueryEscape(p.Password)
	api := base + "/player_api.php?" + creds

	// Auth handshake: verifies credentials and may return canonical
	// credentials and the host to build playback URLs against.
	body, err := f.get(ctx, api)
	if err != nil {
		return nil, &FetchError{Provider: p.Name, Op: "auth", Err: err}
	}
	var auth struct {
		UserInfo *struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Status   string `json:"status"`
		} `json:"user_info"`
		ServerInfo *struct {
			URL       string `json:"url"`
			Port      string `json:"port"`
			HTTPSPort string `json:"https_port"`
		} `json:"server_info"`
	}
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, &FetchError{Provider: p.Name, Op: "auth decode", Err: err}
	}
	user, pass := p.Username, p.Password
	if auth.UserInfo != nil {
		if auth.UserInfo.Status != "" && !strings.EqualFold(auth.UserInfo.Status, "Active") {
			return nil, &FetchError{Provider: p.Name, Op: "auth",
				Err: fmt.Errorf("account status %q", auth.UserInfo.Status)}
		}
		if auth.UserInfo.Username != "" {
			user = auth.UserInfo.Username
		}
		if auth.UserInfo.Password != "" {
			pass = auth.UserInfo.Password
		}
	}
	streamBase := resolveStreamBase(base, auth.ServerInfo)
	api = base + "/player_api.php?username=" + url.QueryEscape(user) + "&password=" + url.QueryEscape(pass)

	var records []models.StagingRecord

	live, err := f.xtreamList(ctx, api+"&action=get_live_streams")
	if err != nil {
		return nil, &FetchError{Provider: p.Name, Op: "get_live_streams", Err: err}
	}
	for _, s := range live {
		sid := idString(s.StreamID)
		if sid == "" || s.Name == "" {
			continue
		}
		uri := fmt.Sprintf("%s/live/%s/%s/%s.ts", streamBase, url.PathEscape(user), url.PathEscape(pass), url.PathEscape(sid))
		records = append(records, f.xtreamRecord(p, s, models.StreamTypeLive, uri))
	}

	vod, err := f.xtreamList(ctx, api+"&action=get_vod_streams")
	if err != nil {
		return nil, &FetchError{Provider: p.Name, Op: "get_vod_streams", Err: err}
	}
	for _, s := range vod {
		sid := idString(s.StreamID)
		if sid == "" || s.Name == "" {
			continue
		}
		ext := s.ContainerExtension
		if ext == "" || len(ext) > 5 {
			ext = "mp4"
		}
		uri := fmt.Sprintf("%s/movie/%s/%s/%s.%s", streamBase, url.PathEscape(user), url.PathEscape(pass), url.PathEscape(sid), ext)
		records = append(records, f.xtreamRecord(p, s, models.StreamTypeVOD, uri))
	}

	series, err := f.xtreamList(ctx, api+"&action=get_series")
	if err != nil {
		return nil, &FetchError{Provider: p.Name, Op: "get_series", Err: err}
	}
	for _, s := range series {
		sid := idString(s.SeriesID)
		if sid == "" || s.Name == "" {
			continue
		}
		uri := fmt.Sprintf("%s/series/%s/%s/%s", streamBase, url.PathEscape(user), url.PathEscape(pass), url.PathEscape(sid))
		records = append(records, f.xtreamRecord(p, s, models.StreamTypeSeries, uri))
	}

	return records, nil
}

func (f *Fetcher) xtreamList(ctx context.Context, url string) ([]xtreamStream, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var list []xtreamStream
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return list, nil
}

func (f *Fetcher) xtreamRecord(p *models.Provider, s xtreamStream, typ int16, uri string) models.StagingRecord {
	name := strings.TrimSpace(s.Name)
	rec := models.StagingRecord{
		UserID:     p.UserID,
		ProviderID: p.ID,
		Type:       typ,
		Name:       name,
		OrigName:   name,
		StreamURI:  uri,
	}
	if s.Num > 0 {
		n := s.Num
		rec.ChannelNo = &n
	}
	if tvg := idString(s.EpgChannelID); tvg != "" {
		rec.TVGID = &tvg
	}
	logo := s.StreamIcon
	if logo == "" {
		logo = s.Cover
	}
	if logo != "" {
		rec.TVGLogo = &logo
	}
	if cat := idString(s.CategoryID); cat != "" {
		rec.TVGGroup = &cat
	}
	return rec
}

// resolveStreamBase returns the base URL for playback URIs: server_info
// host/port when present, else the API base.
func resolveStreamBase(apiBase string, serverInfo *struct {
	URL       string `json:"url"`
	Port      string `json:"port"`
	HTTPSPort string `json:"https_port"`
}) string {
	if serverInfo == nil || serverInfo.URL == "" || serverInfo.Port == "" {
		return apiBase
	}
	host := strings.TrimSuffix(serverInfo.URL, "/")
	port := strings.TrimSpace(serverInfo.Port)
	httpsPort := strings.TrimSpace(serverInfo.HTTPSPort)
	scheme := "http"
	if httpsPort != "" && httpsPort == port {
		scheme = "https"
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}

// idString renders a number-or-string JSON id as a string.
func idString(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case string:
		return strings.TrimSpace(x)
	}
	return ""
}
