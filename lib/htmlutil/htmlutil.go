package htmlutil

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText strips non-printable characters, trims the result and
// collapses inner whitespace runs to a single space.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.Trim(s, " \t\n")
	return innerWhitespace.ReplaceAllString(s, " ")
}

// InputValue returns the value attribute of the first <input> element
// with the given name, or "" when no such element exists.
func InputValue(doc *goquery.Document, name string) string {
	return doc.Find(fmt.Sprintf("input[name='%s']", name)).AttrOr("value", "")
}

// ValueByID returns the value attribute of the element with the given id.
func ValueByID(doc *goquery.Document, id string) string {
	return doc.Find("#" + id).AttrOr("value", "")
}

// TextByID returns the cleaned inner text of the element with the given
// id, or "" when the element is absent.
func TextByID(doc *goquery.Document, id string) string {
	sel := doc.Find("#" + id)
	if len(sel.Nodes) == 0 {
		return ""
	}
	return CleanText(GetText(sel.Nodes[0]))
}
