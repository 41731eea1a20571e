// Package stitch groups temporally adjacent published transcripts into
// conversations, one index per curator day directory.
package stitch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/model"
)

// Options tunes grouping thresholds.
type Options struct {
	GapSeconds        int // default 120
	SpeakerGapSeconds int // default 300
}

func (o Options) withDefaults() Options {
	if o.GapSeconds == 0 {
		o.GapSeconds = 120
	}
	if o.SpeakerGapSeconds == 0 {
		o.SpeakerGapSeconds = 300
	}
	return o
}

// Stitcher groups a curator day directory's transcripts into conversations.
type Stitcher struct {
	curatorRoot string
	opts        Options
	log         zerolog.Logger
}

// New builds a Stitcher rooted at the curator voice transcript tree.
func New(curatorRoot string, opts Options, log zerolog.Logger) *Stitcher {
	return &Stitcher{curatorRoot: curatorRoot, opts: opts.withDefaults(), log: log.With().Str("component", "stitcher").Logger()}
}

type loadedTranscript struct {
	path string
	name string
	t    *model.Transcript
}

// conversationEntry is one row in a day's conversations.json index.
type conversationEntry struct {
	ID         string   `json:"id"`
	StartTime  string   `json:"startTime"`
	EndTime    string   `json:"endTime"`
	DurationS  int      `json:"duration"`
	Segments   []string `json:"segments"`
	Speakers   []string `json:"speakers"`
	TotalWords int      `json:"totalWords"`
	Count      int      `json:"transcriptCount"`
}

type conversationIndex struct {
	Date          string              `json:"date"`
	Conversations []conversationEntry `json:"conversations"`
	Generated     time.Time           `json:"generated"`
}

var yearRe = regexp.MustCompile(`^\d{4}$`)
var monthDayRe = regexp.MustCompile(`^\d{2}$`)

// StitchDay processes a single YYYY/MM/DD directory.
func (s *Stitcher) StitchDay(year, month, day int) error {
	dir := filepath.Join(s.curatorRoot, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month), fmt.Sprintf("%02d", day))
	return s.stitchDir(dir)
}

// ReindexAll walks the curator tree and re-stitches every day directory,
// including days whose transcripts all carry a conversationId already.
func (s *Stitcher) ReindexAll() (int, error) {
	return s.runAll(true)
}

// StitchIncremental processes only day directories containing at least one
// transcript lacking conversationId.
func (s *Stitcher) StitchIncremental() (int, error) {
	return s.runAll(false)
}

func (s *Stitcher) runAll(reindex bool) (int, error) {
	dirs, err := s.findDayDirs()
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, dir := range dirs {
		loaded, err := loadDay(dir)
		if err != nil {
			s.log.Warn().Err(err).Str("dir", dir).Msg("load day dir failed")
			continue
		}
		if len(loaded) == 0 {
			continue
		}
		if !reindex && !hasUnstitched(loaded) {
			continue
		}
		if err := s.stitchLoaded(dir, loaded); err != nil {
			s.log.Warn().Err(err).Str("dir", dir).Msg("stitch day failed")
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *Stitcher) findDayDirs() ([]string, error) {
	var days []string
	years, err := os.ReadDir(s.curatorRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, y := range years {
		if !y.IsDir() || !yearRe.MatchString(y.Name()) {
			continue
		}
		yearDir := filepath.Join(s.curatorRoot, y.Name())
		months, err := os.ReadDir(yearDir)
		if err != nil {
			continue
		}
		for _, m := range months {
			if !m.IsDir() || !monthDayRe.MatchString(m.Name()) {
				continue
			}
			monthDir := filepath.Join(yearDir, m.Name())
			dayEntries, err := os.ReadDir(monthDir)
			if err != nil {
				continue
			}
			for _, d := range dayEntries {
				if !d.IsDir() || !monthDayRe.MatchString(d.Name()) {
					continue
				}
				days = append(days, filepath.Join(monthDir, d.Name()))
			}
		}
	}
	sort.Strings(days)
	return days, nil
}

func (s *Stitcher) stitchDir(dir string) error {
	loaded, err := loadDay(dir)
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		return nil
	}
	return s.stitchLoaded(dir, loaded)
}

func loadDay(dir string) ([]loadedTranscript, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []loadedTranscript
	for _, e := range entries {
		if e.IsDir() || e.Name() == "conversations.json" || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var t model.Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		if t.ArrivedAt.IsZero() {
			continue
		}
		out = append(out, loadedTranscript{path: path, name: e.Name(), t: &t})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].t.ArrivedAt.Before(out[j].t.ArrivedAt) })
	return out, nil
}

func hasUnstitched(loaded []loadedTranscript) bool {
	for _, l := range loaded {
		if l.t.ConversationID == "" {
			return true
		}
	}
	return false
}

func (s *Stitcher) stitchLoaded(dir string, loaded []loadedTranscript) error {
	groups := groupConversations(loaded, s.opts)

	index := conversationIndex{Generated: time.Now().UTC()}
	if parts := dayComponents(dir); parts != "" {
		index.Date = parts
	}

	for _, group := range groups {
		entry, convID := summarize(group)
		index.Conversations = append(index.Conversations, entry)

		for _, lt := range group {
			if lt.t.ConversationID == convID {
				continue
			}
			lt.t.ConversationID = convID
			if err := atomicfile.WriteJSON(lt.path, lt.t, 0o644); err != nil {
				s.log.Warn().Err(err).Str("path", lt.path).Msg("write conversationId failed")
			}
		}
	}

	return atomicfile.WriteJSON(filepath.Join(dir, "conversations.json"), index, 0o644)
}

// groupConversations buckets loaded transcripts by inter-arrival gap,
// extended when two consecutive transcripts share a named speaker.
func groupConversations(loaded []loadedTranscript, opts Options) [][]loadedTranscript {
	if len(loaded) == 0 {
		return nil
	}

	groups := [][]loadedTranscript{{loaded[0]}}
	for i := 1; i < len(loaded); i++ {
		prev := loaded[i-1]
		curr := loaded[i]

		gap := curr.t.ArrivedAt.Sub(prev.t.EndTime()).Seconds()
		threshold := float64(opts.GapSeconds)
		if sharesSpeaker(prev.t, curr.t) {
			threshold = float64(opts.SpeakerGapSeconds)
		}

		if gap <= threshold {
			groups[len(groups)-1] = append(groups[len(groups)-1], curr)
		} else {
			groups = append(groups, []loadedTranscript{curr})
		}
	}
	return groups
}

func sharesSpeaker(a, b *model.Transcript) bool {
	set := map[string]bool{}
	for _, n := range a.Speakers() {
		set[n] = true
	}
	for _, n := range b.Speakers() {
		if set[n] {
			return true
		}
	}
	return false
}

func makeConversationID(start time.Time) string {
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return "conv-" + start.Format("20060102-150405")
}

func summarize(group []loadedTranscript) (conversationEntry, string) {
	start := group[0].t.ArrivedAt
	convID := makeConversationID(start)

	end := start
	speakerSet := map[string]bool{}
	totalWords := 0
	names := make([]string, 0, len(group))

	for _, lt := range group {
		names = append(names, lt.name)
		totalWords += lt.t.WordCount()
		for _, sp := range lt.t.Speakers() {
			speakerSet[sp] = true
		}
		if unnamed := unnamedLabels(lt.t); len(unnamed) > 0 {
			for _, u := range unnamed {
				speakerSet[u] = true
			}
		}
		if e := lt.t.EndTime(); e.After(end) {
			end = e
		}
	}

	speakers := make([]string, 0, len(speakerSet))
	for n := range speakerSet {
		speakers = append(speakers, n)
	}
	sort.Strings(speakers)

	return conversationEntry{
		ID:         convID,
		StartTime:  start.Format(time.RFC3339),
		EndTime:    end.Format(time.RFC3339),
		DurationS:  int(end.Sub(start).Seconds()),
		Segments:   names,
		Speakers:   speakers,
		TotalWords: totalWords,
		Count:      len(group),
	}, convID
}

// unnamedLabels collects raw diarized labels for segments never resolved
// to a profile, so conversations.json still lists unidentified speakers.
func unnamedLabels(t *model.Transcript) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range t.Segments {
		if s.SpeakerName != "" || s.Speaker == "" || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

func dayComponents(dir string) string {
	day := filepath.Base(dir)
	month := filepath.Base(filepath.Dir(dir))
	year := filepath.Base(filepath.Dir(filepath.Dir(dir)))
	if !yearRe.MatchString(year) || !monthDayRe.MatchString(month) || !monthDayRe.MatchString(day) {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", year, month, day)
}
