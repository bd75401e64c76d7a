package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	fundListHeader  = "# 基金代码列表\n# 每行一个基金代码，以#开头的行为注释\n"
	emailListHeader = "# 邮件地址列表\n# 每行一个邮箱地址，以#开头的行为注释\n"

	watchDebounce = time.Second
)

// ChangeKind identifies which watchlist file changed.
type ChangeKind string

const (
	ChangeFundList  ChangeKind = "fund_list"
	ChangeEmailList ChangeKind = "email_list"
)

// Watchlists manages the fund-code and recipient-email list files.
// Both are line-oriented text files with "#" comments; edits on disk are
// picked up live and replace the in-memory set.
type Watchlists struct {
	fundPath  string
	emailPath string
	logger    zerolog.Logger

	mu     sync.RWMutex
	funds  map[string]struct{}
	emails map[string]struct{}

	callbacks []func(ChangeKind)

	watcher  *fsnotify.Watcher
	done     chan struct{}
	lastSeen map[string]time.Time
}

// NewWatchlists loads both list files, creating them with a comment header
// when missing.
func NewWatchlists(fundPath, emailPath string, logger zerolog.Logger) (*Watchlists, error) {
	w := &Watchlists{
		fundPath:  fundPath,
		emailPath: emailPath,
		logger:    logger.With().Str("component", "watchlists").Logger(),
		funds:     make(map[string]struct{}),
		emails:    make(map[string]struct{}),
		lastSeen:  make(map[string]time.Time),
	}

	if err := w.reloadFunds(); err != nil {
		return nil, err
	}
	if err := w.reloadEmails(); err != nil {
		return nil, err
	}
	return w, nil
}

// FundCodes returns the monitored fund codes, sorted.
func (w *Watchlists) FundCodes() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedKeys(w.funds)
}

// Emails returns the recipient addresses, sorted.
func (w *Watchlists) Emails() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedKeys(w.emails)
}

// OnChange registers a callback fired after a watchlist file reload
// changed the effective set.
func (w *Watchlists) OnChange(fn func(ChangeKind)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// AddFund appends a fund code to the list file and the in-memory set.
func (w *Watchlists) AddFund(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("基金代码不能为空")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.funds[code]; ok {
		return fmt.Errorf("基金代码已存在: %s", code)
	}
	if err := appendLine(w.fundPath, code); err != nil {
		return fmt.Errorf("写入基金列表: %w", err)
	}
	w.funds[code] = struct{}{}
	w.logger.Info().Str("code", code).Msg("添加基金代码成功")
	return nil
}

// AddEmail appends a recipient address to the list file and the in-memory set.
func (w *Watchlists) AddEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("邮箱地址格式不正确")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.emails[email]; ok {
		return fmt.Errorf("邮件地址已存在: %s", email)
	}
	if err := appendLine(w.emailPath, email); err != nil {
		return fmt.Errorf("写入邮件列表: %w", err)
	}
	w.emails[email] = struct{}{}
	w.logger.Info().Str("email", email).Msg("添加邮件地址成功")
	return nil
}

// RemoveEmail drops a recipient address, rewriting the list file.
func (w *Watchlists) RemoveEmail(email string) error {
	email = strings.TrimSpace(email)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.emails[email]; !ok {
		return fmt.Errorf("邮件地址不存在: %s", email)
	}

	delete(w.emails, email)
	if err := writeListFile(w.emailPath, emailListHeader, sortedKeys(w.emails)); err != nil {
		w.emails[email] = struct{}{}
		return fmt.Errorf("重写邮件列表: %w", err)
	}
	w.logger.Info().Str("email", email).Msg("删除邮件地址成功")
	return nil
}

// Reload re-reads both list files from disk.
func (w *Watchlists) Reload() error {
	if err := w.reloadFunds(); err != nil {
		return err
	}
	return w.reloadEmails()
}

func (w *Watchlists) reloadFunds() error {
	lines, err := readListFile(w.fundPath, fundListHeader)
	if err != nil {
		return fmt.Errorf("加载基金列表: %w", err)
	}

	next := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		next[line] = struct{}{}
	}
	w.replace(ChangeFundList, next)
	return nil
}

func (w *Watchlists) reloadEmails() error {
	lines, err := readListFile(w.emailPath, emailListHeader)
	if err != nil {
		return fmt.Errorf("加载邮件列表: %w", err)
	}

	next := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if strings.Contains(line, "@") {
			next[line] = struct{}{}
		}
	}
	w.replace(ChangeEmailList, next)
	return nil
}

// replace swaps in the freshly read set and notifies callbacks only
// when membership actually changed.
func (w *Watchlists) replace(kind ChangeKind, next map[string]struct{}) {
	w.mu.Lock()
	current := w.funds
	if kind == ChangeEmailList {
		current = w.emails
	}

	added, removed := diffSets(current, next)
	if kind == ChangeFundList {
		w.funds = next
	} else {
		w.emails = next
	}
	callbacks := make([]func(ChangeKind), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	w.logger.Info().
		Str("file", string(kind)).
		Strs("added", added).
		Strs("removed", removed).
		Msg("监控列表已更新")
	for _, fn := range callbacks {
		fn(kind)
	}
}

// StartWatcher begins watching the directory containing the list files.
// Editors replace files on save, so the directory is watched rather than
// the files themselves.
func (w *Watchlists) StartWatcher() error {
	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监控: %w", err)
	}

	dirs := map[string]struct{}{
		filepath.Dir(w.fundPath):  {},
		filepath.Dir(w.emailPath): {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("监控目录 %s: %w", dir, err)
		}
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.watchLoop()
	w.logger.Info().Msg("文件监控服务已启动")
	return nil
}

// StopWatcher tears down the fsnotify watcher.
func (w *Watchlists) StopWatcher() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.watcher = nil
	w.logger.Info().Msg("文件监控服务已停止")
}

func (w *Watchlists) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.handleEvent(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("文件监控异常")
		}
	}
}

func (w *Watchlists) handleEvent(path string) {
	var reload func() error
	switch {
	case sameFile(path, w.fundPath):
		reload = w.reloadFunds
	case sameFile(path, w.emailPath):
		reload = w.reloadEmails
	default:
		return
	}

	now := time.Now()
	w.mu.Lock()
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < watchDebounce {
		w.mu.Unlock()
		return
	}
	w.lastSeen[path] = now
	w.mu.Unlock()

	if err := reload(); err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("重新加载监控列表失败")
	}
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// readListFile reads non-comment lines; a missing file is created with
// the given header and yields an empty list.
func readListFile(path, header string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := os.WriteFile(path, []byte(header), 0o644); writeErr != nil {
				return nil, writeErr
			}
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func writeListFile(path, header string, lines []string) error {
	var b strings.Builder
	b.WriteString(header)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n", line)
	return err
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func diffSets(current, next map[string]struct{}) (added, removed []string) {
	for key := range next {
		if _, ok := current[key]; !ok {
			added = append(added, key)
		}
	}
	for key := range current {
		if _, ok := next[key]; !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
