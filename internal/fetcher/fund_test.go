package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fundServer(t *testing.T, failing map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimSuffix(r.URL.Path, ".js"), "/")
		code := parts[len(parts)-1]
		if failing[code] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `jsonpgz({"fundcode":"%s","name":"测试基金%s","dwjz":"1.2340","gsz":"1.2510","gszzl":"1.38","gztime":"2026-08-28 14:30"});`, code, code)
	}))
}

func TestFetchFundSuccess(t *testing.T) {
	srv := fundServer(t, nil)
	defer srv.Close()

	f := NewFund(FundOptions{APIURL: srv.URL, Timeout: time.Second}, noopLogger())

	quote, err := f.FetchFund(context.Background(), "161725")
	if err != nil {
		t.Fatalf("获取基金数据失败: %v", err)
	}
	if quote.Code != "161725" || quote.NetValue != 1.234 || quote.EstimatedValue != 1.251 {
		t.Fatalf("基金字段解析错误: %+v", quote)
	}
	if quote.ChangePercent != 1.38 {
		t.Fatalf("涨跌幅解析错误: %v", quote.ChangePercent)
	}
}

func TestFetchFundsIsolatesFailures(t *testing.T) {
	srv := fundServer(t, map[string]bool{"B": true})
	defer srv.Close()

	f := NewFund(FundOptions{APIURL: srv.URL, Timeout: time.Second}, noopLogger())

	results := f.FetchFunds(context.Background(), []string{"A", "B", "C"})
	if len(results) != 3 {
		t.Fatalf("结果应包含全部 3 个基金, 实际 %d", len(results))
	}
	if results["B"].Err == nil {
		t.Fatal("B 应携带错误")
	}
	for _, code := range []string{"A", "C"} {
		res := results[code]
		if res.Err != nil {
			t.Fatalf("%s 不应受 B 失败影响: %v", code, res.Err)
		}
		if res.Quote.Code != code {
			t.Fatalf("%s 快照内容不正确: %+v", code, res.Quote)
		}
	}
}

func TestFetchFundMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not jsonp</html>`))
	}))
	defer srv.Close()

	f := NewFund(FundOptions{APIURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := f.FetchFund(context.Background(), "161725"); err == nil {
		t.Fatal("无法解析的报文应报错")
	}
}
