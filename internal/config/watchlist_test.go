package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestWatchlists(t *testing.T) (*Watchlists, string, string) {
	t.Helper()
	dir := t.TempDir()
	fundPath := filepath.Join(dir, "fund_list.txt")
	emailPath := filepath.Join(dir, "email_list.txt")

	w, err := NewWatchlists(fundPath, emailPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("初始化监控列表失败: %v", err)
	}
	return w, fundPath, emailPath
}

func TestMissingListFilesAreCreatedWithHeader(t *testing.T) {
	w, fundPath, emailPath := newTestWatchlists(t)

	if codes := w.FundCodes(); len(codes) != 0 {
		t.Fatalf("新建列表应为空: %v", codes)
	}
	for _, path := range []string{fundPath, emailPath} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("缺失的列表文件应被创建: %v", err)
		}
		if !strings.HasPrefix(string(data), "#") {
			t.Fatalf("列表文件应带注释头: %q", data)
		}
	}
}

func TestReloadSkipsCommentsAndInvalidEmails(t *testing.T) {
	w, fundPath, emailPath := newTestWatchlists(t)

	os.WriteFile(fundPath, []byte("# 基金代码列表\n161725\n\n005827\n# 注释行\n"), 0o644)
	os.WriteFile(emailPath, []byte("a@example.com\nnot-an-email\nb@example.com\n"), 0o644)
	if err := w.Reload(); err != nil {
		t.Fatal(err)
	}

	if got := w.FundCodes(); !reflect.DeepEqual(got, []string{"005827", "161725"}) {
		t.Fatalf("基金代码解析错误: %v", got)
	}
	if got := w.Emails(); !reflect.DeepEqual(got, []string{"a@example.com", "b@example.com"}) {
		t.Fatalf("无 @ 的行应被忽略: %v", got)
	}
}

func TestOnChangeFiresOnlyWhenMembershipChanges(t *testing.T) {
	w, fundPath, _ := newTestWatchlists(t)

	var changes []ChangeKind
	w.OnChange(func(kind ChangeKind) { changes = append(changes, kind) })

	os.WriteFile(fundPath, []byte("161725\n"), 0o644)
	if err := w.Reload(); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err != nil {
		t.Fatal(err)
	}

	if len(changes) != 1 || changes[0] != ChangeFundList {
		t.Fatalf("成员未变时不应重复回调: %v", changes)
	}
}

func TestAddAndRemovePersistToFile(t *testing.T) {
	w, fundPath, emailPath := newTestWatchlists(t)

	if err := w.AddFund("161725"); err != nil {
		t.Fatal(err)
	}
	if err := w.AddFund("161725"); err == nil {
		t.Fatal("重复添加基金代码应报错")
	}
	data, _ := os.ReadFile(fundPath)
	if !strings.Contains(string(data), "161725") {
		t.Fatalf("新增基金代码应落盘: %q", data)
	}

	if err := w.AddEmail("bad-address"); err == nil {
		t.Fatal("非法邮箱应被拒绝")
	}
	if err := w.AddEmail("a@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := w.AddEmail("b@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveEmail("a@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveEmail("a@example.com"); err == nil {
		t.Fatal("删除不存在的邮箱应报错")
	}

	data, _ = os.ReadFile(emailPath)
	if strings.Contains(string(data), "a@example.com") || !strings.Contains(string(data), "b@example.com") {
		t.Fatalf("邮件列表重写结果错误: %q", data)
	}
	if got := w.Emails(); !reflect.DeepEqual(got, []string{"b@example.com"}) {
		t.Fatalf("内存集合应同步: %v", got)
	}
}
