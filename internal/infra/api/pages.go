package api

import (
	"html/template"
	"net/http"
)

type pageKind int

const (
	pageActivated pageKind = iota
	pageCancelled
	pageMismatch
	pageInvalidLink
	pageRetry
)

// pageKeys maps a page to its title and message translation keys.
var pageKeys = map[pageKind]struct {
	ok         bool
	title, msg string
}{
	pageActivated:   {true, "page_activated_title", "page_activated_msg"},
	pageCancelled:   {false, "page_cancelled_title", "page_cancelled_msg"},
	pageMismatch:    {false, "page_mismatch_title", "page_mismatch_msg"},
	pageInvalidLink: {false, "page_invalid_title", "page_invalid_msg"},
	pageRetry:       {false, "page_retry_title", "page_retry_msg"},
}

var redirectPage = template.Must(template.New("redirect").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Brand}} - {{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.btn{display:inline-block;margin-top:16px;padding:10px 16px;border-radius:8px;border:1px solid #888;text-decoration:none}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{if .OK}}✅{{else}}⚠️{{end}} {{.Title}}</h2>
  <p>{{.Msg}}</p>
  {{if .ChatURL}}<a class="btn" href="{{.ChatURL}}">{{.Back}}</a>{{end}}
</div>
</body>
</html>`))

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, code int, kind pageKind) {
	k := pageKeys[kind]
	t := s.pages.For(r.Header.Get("Accept-Language"))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = redirectPage.Execute(w, struct {
		OK                   bool
		Lang, Brand, ChatURL string
		Title, Msg, Back     string
	}{
		OK: k.ok, Lang: t.Lang(), Brand: s.deps.BrandName, ChatURL: s.deps.ChatURL,
		Title: t.T(k.title), Msg: t.T(k.msg), Back: t.T("back_to_chat"),
	})
}
