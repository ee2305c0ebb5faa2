package browser

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"LeadScanner/internal/domain"
)

const (
	postSelector = "article"
	textSelector = "div[dir='auto']"
	idAttribute  = "data-ft"
)

// extractPosts parses a rendered group page. Handle carries the article's
// position on the page so a reply can find it again.
func extractPosts(r io.Reader, group, account string) ([]domain.RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var posts []domain.RawItem
	doc.Find(postSelector).Each(func(i int, article *goquery.Selection) {
		text := postText(article)
		if text == "" {
			return
		}
		nativeID, _ := article.Attr(idAttribute)
		posts = append(posts, domain.RawItem{
			SourceRef: group,
			Text:      text,
			NativeID:  strings.TrimSpace(nativeID),
			Handle:    strconv.Itoa(i),
			Session:   account,
		})
	})
	return posts, nil
}

func postText(article *goquery.Selection) string {
	node := article.Find(textSelector).First()
	if node.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(node.Text()), " ")
}

// replyTarget marks the reply box of the article at index, provided the
// article still shows the same text, and reports whether it found one.
func replyTarget(handle, text string) (string, error) {
	idx, err := strconv.Atoi(handle)
	if err != nil || idx < 0 {
		return "", fmt.Errorf("invalid post handle %q", handle)
	}
	quoted := strconv.Quote(text)
	return fmt.Sprintf(`(() => {
  const article = document.querySelectorAll(%q)[%d];
  if (!article) return false;
  const node = article.querySelector(%q);
  const text = node ? node.innerText.split(/\s+/).filter(Boolean).join(" ") : "";
  if (text !== %s) return false;
  const box = article.querySelector("textarea");
  if (!box) return false;
  document.querySelectorAll("[%s]").forEach(el => el.removeAttribute(%q));
  box.setAttribute(%q, "1");
  box.focus();
  return true;
})()`, postSelector, idx, textSelector, quoted, replyMarker, replyMarker, replyMarker), nil
}

const replyMarker = "data-leadscanner-reply"
