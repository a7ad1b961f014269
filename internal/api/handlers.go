package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aelira-dev/aelira/internal/player"
	"github.com/aelira-dev/aelira/internal/session"
	"github.com/aelira-dev/aelira/internal/track"
)

func (s *Server) handleVersion(c *gin.Context) {
	c.String(http.StatusOK, s.version)
}

// checkSources verifies the source registry is populated.
func (s *Server) checkSources(context.Context) error {
	if len(s.sources.Names()) == 0 {
		return errors.New("no sources registered")
	}
	return nil
}

// infoResponse mirrors the Lavalink v4 info payload. The jvm field carries
// the Go runtime version so clients expecting the original shape still get
// a meaningful value.
type infoResponse struct {
	Version        infoVersion `json:"version"`
	BuildTime      int64       `json:"buildTime"`
	Git            infoGit     `json:"git"`
	JVM            string      `json:"jvm"`
	Lavaplayer     string      `json:"lavaplayer"`
	SourceManagers []string    `json:"sourceManagers"`
	Filters        []string    `json:"filters"`
	Plugins        []any       `json:"plugins"`
}

type infoVersion struct {
	Semver     string  `json:"semver"`
	Major      int     `json:"major"`
	Minor      int     `json:"minor"`
	Patch      int     `json:"patch"`
	PreRelease *string `json:"preRelease"`
	Build      *string `json:"build"`
}

type infoGit struct {
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
	CommitTime int64  `json:"commitTime"`
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, infoResponse{
		Version:        parseSemver(s.version),
		BuildTime:      -1,
		Git:            infoGit{Branch: "unknown", Commit: "unknown", CommitTime: -1},
		JVM:            runtime.Version(),
		Lavaplayer:     s.version,
		SourceManagers: s.sources.Names(),
		Filters:        []string{},
		Plugins:        []any{},
	})
}

// parseSemver splits a semver string into its numeric parts. Anything after
// a dash is the pre-release tag, after a plus the build tag.
func parseSemver(v string) infoVersion {
	out := infoVersion{Semver: v}

	rest := v
	if base, build, ok := strings.Cut(rest, "+"); ok {
		out.Build = &build
		rest = base
	}
	if base, pre, ok := strings.Cut(rest, "-"); ok {
		out.PreRelease = &pre
		rest = base
	}

	parts := strings.SplitN(rest, ".", 3)
	nums := make([]int, 0, 3)
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out
		}
		nums = append(nums, n)
	}
	for i, n := range nums {
		switch i {
		case 0:
			out.Major = n
		case 1:
			out.Minor = n
		case 2:
			out.Patch = n
		}
	}
	return out
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, BuildStats(s.sessions, s.sampler))
}

func (s *Server) handleLoadTracks(c *gin.Context) {
	identifier := c.Query("identifier")
	if identifier == "" {
		abortWithError(c, http.StatusBadRequest, "Missing identifier query parameter")
		return
	}

	start := time.Now()
	res := s.sources.LoadTracks(c.Request.Context(), identifier)
	s.metrics.RecordTrackLoad(c.Request.Context(), string(res.LoadType), time.Since(start).Seconds())
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDecodeTrack(c *gin.Context) {
	encoded := c.Query("encodedTrack")
	if encoded == "" {
		abortWithError(c, http.StatusBadRequest, "Missing encodedTrack query parameter")
		return
	}
	t, err := track.Decode(encoded)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid encoded track: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, t.Info)
}

func (s *Server) handleDecodeTracks(c *gin.Context) {
	var encoded []string
	if err := bindStrict(c, &encoded); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	infos := make([]track.Info, 0, len(encoded))
	for _, e := range encoded {
		t, err := track.Decode(e)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid encoded track: "+err.Error())
			return
		}
		infos = append(infos, t.Info)
	}
	c.JSON(http.StatusOK, infos)
}

func (s *Server) handleEncodeTrack(c *gin.Context) {
	raw := c.Query("track")
	if raw == "" {
		abortWithError(c, http.StatusBadRequest, "Missing track query parameter")
		return
	}
	var info track.Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid track info: "+err.Error())
		return
	}
	c.String(http.StatusOK, track.Encode(info))
}

func (s *Server) handleEncodeTracks(c *gin.Context) {
	var infos []track.Info
	if err := bindStrict(c, &infos); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	encoded := make([]string, 0, len(infos))
	for _, info := range infos {
		encoded = append(encoded, track.Encode(info))
	}
	c.JSON(http.StatusOK, encoded)
}

// sessionUpdate is the body of PATCH /v4/sessions/{id}. Resuming across
// process restarts is not supported, so the fields are echoed back as-is.
type sessionUpdate struct {
	Resuming *bool `json:"resuming"`
	Timeout  *int  `json:"timeout"`
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	if _, ok := s.lookupSession(c); !ok {
		return
	}

	var upd sessionUpdate
	if err := bindStrict(c, &upd); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	resuming := false
	if upd.Resuming != nil {
		resuming = *upd.Resuming
	}
	timeout := 60
	if upd.Timeout != nil {
		timeout = *upd.Timeout
	}
	c.JSON(http.StatusOK, gin.H{"resuming": resuming, "timeout": timeout})
}

func (s *Server) lookupSession(c *gin.Context) (*session.Session, bool) {
	sess, ok := s.sessions.Lookup(c.Param("sessionId"))
	if !ok {
		abortWithError(c, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleListPlayers(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	players := sess.Players()
	out := make([]player.Snapshot, 0, len(players))
	for _, p := range players {
		out = append(out, p.Snapshot())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPlayer(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	p := sess.GetOrCreatePlayer(c.Param("guildId"))
	c.JSON(http.StatusOK, p.Snapshot())
}

func (s *Server) handleUpdatePlayer(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	var upd player.Update
	if err := bindStrict(c, &upd); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	p := sess.GetOrCreatePlayer(c.Param("guildId"))
	if err := p.ApplyUpdate(c.Request.Context(), upd); err != nil {
		if errors.Is(err, player.ErrTrackResolution) {
			abortWithError(c, http.StatusBadRequest, "Track resolution failed")
			return
		}
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, p.Snapshot())
}

func (s *Server) handleDeletePlayer(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	if !sess.RemovePlayer(c.Param("guildId")) {
		abortWithError(c, http.StatusNotFound, "Player not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRoutePlannerStatus(c *gin.Context) {
	status, ok := s.planner.Status()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleRoutePlannerFreeAddress(c *gin.Context) {
	var body struct {
		Address string `json:"address"`
	}
	if err := bindStrict(c, &body); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	s.planner.FreeAddress(body.Address)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRoutePlannerFreeAll(c *gin.Context) {
	s.planner.FreeAll()
	c.Status(http.StatusNoContent)
}

// bindStrict decodes the request body as JSON, rejecting unknown fields.
func bindStrict(c *gin.Context, v any) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return errors.New("unreadable request body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("malformed request body: " + err.Error())
	}
	return nil
}
