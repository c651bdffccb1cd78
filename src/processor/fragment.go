package processor

import "strings"

// ChangeShape 描述两次内容之间的变化形式
type ChangeShape int

const (
	ShapeNone      ChangeShape = iota // 内容相同
	ShapeNew                          // 没有历史内容
	ShapeAppended                     // 行数增加
	ShapeRewritten                    // 行数相同但内容不同
	ShapeTruncated                    // 行数减少
)

func (s ChangeShape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeNew:
		return "new"
	case ShapeAppended:
		return "appended"
	case ShapeRewritten:
		return "rewritten"
	case ShapeTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Fragment 一次变化中需要通知的内容
type Fragment struct {
	Text    string
	Shape   ChangeShape
	Skipped int // 同一轮询周期内追加、但未转发的中间行数
}

// Empty 没有需要发送的内容
func (f Fragment) Empty() bool { return f.Text == "" }

// ExtractFragment 比较前后两次的完整内容，只取最后一个非空行作为通知内容。
// 内容完全相同时返回空 Fragment，调用方不得为此发送通知。
func ExtractFragment(previous, current string) Fragment {
	if current == previous {
		return Fragment{Shape: ShapeNone}
	}

	curLines := splitLines(current)
	last := lastNonEmpty(curLines)

	if previous == "" {
		return Fragment{Text: last, Shape: ShapeNew}
	}

	prevLines := splitLines(previous)
	switch {
	case len(curLines) > len(prevLines):
		f := Fragment{Text: last, Shape: ShapeAppended}
		if hasPrefixLines(curLines, prevLines) {
			if added := countNonEmpty(curLines[len(prevLines):]); added > 1 {
				f.Skipped = added - 1
			}
		}
		return f
	case len(curLines) == len(prevLines):
		return Fragment{Text: last, Shape: ShapeRewritten}
	default:
		return Fragment{Text: last, Shape: ShapeTruncated}
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func countNonEmpty(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

func hasPrefixLines(lines, prefix []string) bool {
	if len(prefix) > len(lines) {
		return false
	}
	for i := range prefix {
		if lines[i] != prefix[i] {
			return false
		}
	}
	return true
}
