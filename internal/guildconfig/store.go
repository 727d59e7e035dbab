package guildconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var guildIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidGuildID reports whether guildID is safe to use as a file name.
func ValidGuildID(guildID string) bool {
	return guildIDPattern.MatchString(guildID)
}

// Snapshot is a guild config together with its compiled username patterns.
type Snapshot struct {
	Config   GuildConfig
	Patterns []CompiledPattern
}

type entry struct {
	tree     map[string]any
	cfg      GuildConfig
	patterns []CompiledPattern
}

// Store persists one JSON document per guild under dir and caches the merged result.
// Reads never fail: missing or unreadable documents resolve to defaults.
type Store struct {
	dir    string
	logger *zap.Logger

	defaults    map[string]any
	defaultsCfg GuildConfig

	mu    sync.RWMutex
	cache map[string]*entry

	writeMu sync.Mutex
}

// NewStore creates dir if needed. templatePath optionally names a JSON document whose
// values replace the built-in defaults; a missing or malformed template is logged and ignored.
func NewStore(dir, templatePath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	defaults, err := configTree(Default())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if templatePath != "" {
		template, err := readTree(templatePath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("default config template not found, using built-in defaults", zap.String("path", templatePath))
		case err != nil:
			logger.Error("default config template unreadable, using built-in defaults", zap.String("path", templatePath), zap.Error(err))
		default:
			defaults = Merge(defaults, template)
		}
	}
	defaultsCfg, err := decodeTree(defaults)
	if err != nil {
		logger.Error("default config template has invalid values, using built-in defaults", zap.Error(err))
		defaults, _ = configTree(Default())
		defaultsCfg = Default()
	}

	return &Store{
		dir:         dir,
		logger:      logger,
		defaults:    defaults,
		defaultsCfg: defaultsCfg,
		cache:       make(map[string]*entry),
	}, nil
}

// Get returns the guild config merged over defaults. Defaults are written back when the
// guild has no document yet.
func (s *Store) Get(guildID string) GuildConfig {
	return s.load(guildID).cfg.Clone()
}

func (s *Store) Snapshot(guildID string) Snapshot {
	e := s.load(guildID)
	return Snapshot{Config: e.cfg.Clone(), Patterns: e.patterns}
}

// Tree returns a copy of the merged document as stored on disk.
func (s *Store) Tree(guildID string) map[string]any {
	return cloneTree(s.load(guildID).tree)
}

// Setting reads one dotted path from the merged document.
func (s *Store) Setting(guildID, path string) (any, bool) {
	return Lookup(s.load(guildID).tree, path)
}

// Peek returns the merged document of a guild that already has one, from the cache or
// from disk. Unlike Get it never writes a document or fills the cache, so unknown
// guilds report false.
func (s *Store) Peek(guildID string) (map[string]any, bool) {
	if !ValidGuildID(guildID) {
		return nil, false
	}
	s.mu.RLock()
	e, ok := s.cache[guildID]
	s.mu.RUnlock()
	if ok {
		return cloneTree(e.tree), true
	}

	override, err := readTree(s.path(guildID))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false
	case err != nil:
		s.logger.Warn("parse guild config, using defaults", zap.String("guild_id", guildID), zap.Error(err))
		return cloneTree(s.defaults), true
	}
	tree := Merge(s.defaults, override)
	if _, err := decodeTree(tree); err != nil {
		return cloneTree(s.defaults), true
	}
	return tree, true
}

// Lookup reads one dotted path from a config tree.
func Lookup(tree map[string]any, path string) (any, bool) {
	keys, ok := splitPath(path)
	if !ok {
		return nil, false
	}
	var current any = tree
	for _, key := range keys {
		node, isMap := current.(map[string]any)
		if !isMap {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cloneValue(current), true
}

// Save persists cfg atomically. It returns false and logs the cause when the document
// could not be written, in which case the previous state stays in effect.
func (s *Store) Save(guildID string, cfg GuildConfig) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	override, err := configTree(cfg)
	if err != nil {
		s.logger.Error("encode guild config", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	return s.persistLocked(guildID, Merge(s.load(guildID).tree, override))
}

// UpdateSetting sets one dotted path, creating intermediate objects as needed, and saves.
// It fails when the path crosses a non-object value or the result does not decode into a
// valid config.
func (s *Store) UpdateSetting(guildID, path string, value any) bool {
	keys, ok := splitPath(path)
	if !ok {
		s.logger.Warn("invalid setting path", zap.String("guild_id", guildID), zap.String("path", path))
		return false
	}
	normalized, err := toTree(value)
	if err != nil {
		s.logger.Warn("setting value not encodable", zap.String("guild_id", guildID), zap.String("path", path), zap.Error(err))
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tree := cloneTree(s.load(guildID).tree)
	current := tree
	for _, key := range keys[:len(keys)-1] {
		next, exists := current[key]
		if !exists {
			created := make(map[string]any)
			current[key] = created
			current = created
			continue
		}
		node, isMap := next.(map[string]any)
		if !isMap {
			s.logger.Warn("setting path crosses a non-object value", zap.String("guild_id", guildID), zap.String("path", path), zap.String("key", key))
			return false
		}
		current = node
	}
	current[keys[len(keys)-1]] = normalized

	return s.persistLocked(guildID, tree)
}

// Init persists defaults for a guild that has no document yet.
func (s *Store) Init(guildID string) bool {
	if !ValidGuildID(guildID) {
		return false
	}
	if _, err := os.Stat(s.path(guildID)); err == nil {
		return true
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.persistLocked(guildID, cloneTree(s.defaults))
}

func (s *Store) AddWhitelistUser(guildID, userID string) bool {
	cfg := s.Get(guildID)
	for _, id := range cfg.Whitelist.Users {
		if id == userID {
			return true
		}
	}
	cfg.Whitelist.Users = append(cfg.Whitelist.Users, userID)
	return s.Save(guildID, cfg)
}

func (s *Store) RemoveWhitelistUser(guildID, userID string) bool {
	cfg := s.Get(guildID)
	kept := cfg.Whitelist.Users[:0]
	found := false
	for _, id := range cfg.Whitelist.Users {
		if id == userID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if !found {
		return true
	}
	cfg.Whitelist.Users = kept
	return s.Save(guildID, cfg)
}

func (s *Store) load(guildID string) *entry {
	s.mu.RLock()
	e, ok := s.cache[guildID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	e = s.read(guildID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[guildID]; ok {
		return cached
	}
	s.cache[guildID] = e
	return e
}

func (s *Store) read(guildID string) *entry {
	if !ValidGuildID(guildID) {
		s.logger.Warn("invalid guild id, using defaults", zap.String("guild_id", guildID))
		return s.newEntry(cloneTree(s.defaults), s.defaultsCfg.Clone())
	}

	override, err := readTree(s.path(guildID))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		tree := cloneTree(s.defaults)
		if writeErr := s.write(guildID, tree); writeErr != nil {
			s.logger.Error("write default guild config", zap.String("guild_id", guildID), zap.Error(writeErr))
		}
		return s.newEntry(tree, s.defaultsCfg.Clone())
	case err != nil:
		s.logger.Error("parse guild config, using defaults", zap.String("guild_id", guildID), zap.Error(err))
		return s.newEntry(cloneTree(s.defaults), s.defaultsCfg.Clone())
	}

	tree := Merge(s.defaults, override)
	cfg, err := decodeTree(tree)
	if err != nil {
		s.logger.Error("guild config has invalid values, using defaults", zap.String("guild_id", guildID), zap.Error(err))
		return s.newEntry(cloneTree(s.defaults), s.defaultsCfg.Clone())
	}
	return s.newEntry(tree, cfg)
}

func (s *Store) newEntry(tree map[string]any, cfg GuildConfig) *entry {
	return &entry{
		tree:     tree,
		cfg:      cfg,
		patterns: CompilePatterns(cfg.BotDetection.SuspiciousPatterns, s.logger),
	}
}

func (s *Store) persistLocked(guildID string, tree map[string]any) bool {
	if !ValidGuildID(guildID) {
		s.logger.Warn("refusing to save config for invalid guild id", zap.String("guild_id", guildID))
		return false
	}
	cfg, err := decodeTree(tree)
	if err != nil {
		s.logger.Warn("rejecting invalid guild config", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	if err := s.write(guildID, tree); err != nil {
		s.logger.Error("save guild config", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}

	e := s.newEntry(tree, cfg)
	s.mu.Lock()
	s.cache[guildID] = e
	s.mu.Unlock()

	s.logger.Info("saved guild config", zap.String("guild_id", guildID))
	return true
}

func (s *Store) write(guildID string, tree map[string]any) error {
	raw, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, guildID+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(guildID)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) path(guildID string) string {
	return filepath.Join(s.dir, guildID+".json")
}

func readTree(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("%s: document is not an object", path)
	}
	return tree, nil
}

func splitPath(path string) ([]string, bool) {
	if path == "" {
		return nil, false
	}
	keys := strings.Split(path, ".")
	for _, key := range keys {
		if key == "" {
			return nil, false
		}
	}
	return keys, true
}
