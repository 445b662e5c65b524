// btview is a CLI tool for inspecting tree files written by package kv.
//
// Usage:
//
//	btview <filename>              # interactive mode on a terminal, list mode otherwise
//	btview -l <filename>           # list mode (print all)
//	btview -l -n 20 -r <filename>  # list the last 20 items, largest key first
//	btview -s key <filename>       # list from the first key >= key
//	btview -i <filename>           # print the tree header and cache counters
//	btview -verify <filename>      # check the whole tree, exit 1 when damaged
//
// Interactive mode:
//
//	j/↓    scroll down
//	k/↑    scroll up
//	g      jump to first
//	G      jump to last
//	/      search key (first key >= input)
//	q/Esc  quit
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dacapoday/bstree/iterator"
	"github.com/dacapoday/bstree/kv"
)

var (
	keyColor   = color.New(color.FgCyan)
	titleColor = color.New(color.Bold)
	okColor    = color.New(color.FgGreen)
	errColor   = color.New(color.FgRed, color.Bold)
)

func main() {
	listFlag := flag.Bool("l", false, "list mode (non-interactive)")
	countFlag := flag.Int("n", 0, "number of items (0 = all)")
	reverseFlag := flag.Bool("r", false, "list from the largest key")
	seekFlag := flag.String("s", "", "list from the first key >= this one")
	infoFlag := flag.Bool("i", false, "print tree info")
	verifyFlag := flag.Bool("verify", false, "check the tree structure")
	verboseFlag := flag.Bool("v", false, "log tree events to stderr")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: btview [-l] [-n count] [-r] [-s key] [-i] [-verify] [-v] <filename>")
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verboseFlag {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			fail(err)
		}
		defer log.Sync()
	}

	db, err := kv.OpenWith(flag.Arg(0), kv.Options{ReadOnly: true, Logger: log})
	if err != nil {
		fail(err)
	}
	defer db.Close()

	switch {
	case *infoFlag:
		runInfo(db)
	case *verifyFlag:
		runVerify(db)
	case *listFlag, *reverseFlag, *seekFlag != "", !term.IsTerminal(int(os.Stdin.Fd())):
		runList(db, *countFlag, *reverseFlag, *seekFlag)
	default:
		runInteractive(db)
	}
}

func fail(err error) {
	errColor.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func runInfo(db *kv.DB) {
	stats, err := db.Stats()
	if err != nil {
		fail(err)
	}
	t := stats.Tree
	row := func(name string, format string, args ...any) {
		keyColor.Printf("%-16s", name)
		fmt.Printf(format+"\n", args...)
	}
	titleColor.Println("[ tree ]")
	row("node size", "%d", t.NodeSize)
	row("max key length", "%d", t.MaxKeyLength)
	row("depth", "%d", t.TreeDepth)
	row("root", "%d", t.RootNode)
	row("leaves", "%d .. %d", t.FirstLeafNode, t.LastLeafNode)
	row("records", "%d", t.LeafRecords)
	row("nodes", "%d total, %d free", t.TotalNodes, t.FreeNodes)
	row("clump size", "%d", t.ClumpSize)
	row("type", "btree %d, key compare %d", t.BTreeType, t.KeyCompareType)
	row("attributes", "%#x", t.Attributes)
	titleColor.Println("[ cache ]")
	c := stats.Cache
	row("fetches", "%d (%d hits)", c.Fetches, c.Hits)
	row("reads", "%d", c.Reads)
	row("writes", "%d", c.Writes)
}

func runVerify(db *kv.DB) {
	if err := db.Verify(); err != nil {
		errColor.Printf("damaged: %v\n", err)
		os.Exit(1)
	}
	okColor.Printf("ok: %d records\n", db.Len())
}

func runList(db *kv.DB, count int, reverse bool, from string) {
	iter := db.Iter()
	defer iter.Close()

	items := iterator.All(iter, nil)
	switch {
	case reverse:
		items = iterator.Backward(iter)
	case from != "":
		items = iterator.All(iter, []byte(from))
	}

	n := 0
	for key, val := range items {
		if count > 0 && n >= count {
			break
		}
		keyColor.Print(display(key, 40))
		fmt.Printf(": %s\n", display(val, 60))
		n++
	}
	if err := iter.Error(); err != nil {
		fail(err)
	}
}

func runInteractive(db *kv.DB) {
	iter := db.Iter()
	defer iter.Close()
	iter.SeekFirst()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fail(err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	v := &viewer{
		db:   db,
		iter: iter,
	}
	v.updateSize()
	v.load()

	fmt.Print("\033[?25l\033[2J")             // hide cursor, clear screen once
	defer fmt.Print("\033[?25h\033[2J\033[H") // show cursor, clear screen

	reader := bufio.NewReader(os.Stdin)

	for {
		if v.updateSize() {
			v.load()
		}
		v.render()

		b, err := reader.ReadByte()
		if err != nil {
			break
		}

		v.status = ""

		switch b {
		case 'q', 3, 27: // q, Ctrl+C, Esc
			if b == 27 && reader.Buffered() > 0 {
				// escape sequence
				b2, _ := reader.ReadByte()
				if b2 == '[' {
					b3, _ := reader.ReadByte()
					switch b3 {
					case 'A': // up
						v.up()
					case 'B': // down
						v.down()
					case '5': // page up
						reader.ReadByte()
						v.pageUp()
					case '6': // page down
						reader.ReadByte()
						v.pageDown()
					}
				}
				continue
			}
			return
		case 'j':
			v.down()
		case 'k':
			v.up()
		case 'g':
			v.first()
		case 'G':
			v.last()
		case '/':
			v.search(reader)
		}
	}
}

type item struct {
	key, val []byte
}

type viewer struct {
	db      *kv.DB
	iter    kv.DBIter
	items   []item
	width   int
	height  int
	atStart bool // no more items before first
	atEnd   bool // no more items after last
	status  string
}

// updateSize checks terminal size and returns true if changed.
func (v *viewer) updateSize() bool {
	w, h, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		w, h = 80, 24
	}
	if w == v.width && h == v.height {
		return false
	}
	v.width, v.height = w, h
	return true
}

func (v *viewer) lines() int {
	return v.height - 4 // title + separator + separator + status
}

func (v *viewer) load() {
	v.items = nil
	v.atStart = false
	v.atEnd = false

	if !v.iter.Valid() {
		v.iter.SeekFirst()
		if !v.iter.Valid() {
			v.atStart = true
			v.atEnd = true
			v.report()
			return
		}
	}

	lines := v.lines()
	for i := 0; i < lines && v.iter.Valid(); i++ {
		v.items = append(v.items, item{
			key: bytes.Clone(v.iter.Key()),
			val: bytes.Clone(v.iter.Val()),
		})
		if !v.iter.Next() {
			v.atEnd = true
			break
		}
	}

	// check boundaries and restore position
	if len(v.items) > 0 {
		v.iter.Seek(v.items[0].key)
		if !v.iter.Prev() {
			v.atStart = true
		}
		v.iter.Seek(v.items[0].key)
	}
	v.report()
}

// report shows a cursor failure in the status line.
func (v *viewer) report() {
	if err := v.iter.Error(); err != nil {
		v.status = "error: " + err.Error()
	}
}

func (v *viewer) down() {
	if len(v.items) == 0 {
		return
	}

	last := v.items[len(v.items)-1].key
	v.iter.Seek(last)
	if v.iter.Next() {
		v.items = append(v.items[1:], item{
			key: bytes.Clone(v.iter.Key()),
			val: bytes.Clone(v.iter.Val()),
		})
		v.atStart = false
		if !v.iter.Next() {
			v.atEnd = true
		}
		v.iter.Seek(v.items[0].key)
	} else if len(v.items) > 1 {
		// at end, allow scrolling until only 1 item visible
		v.items = v.items[1:]
		v.atEnd = true
	}
	v.report()
}

func (v *viewer) up() {
	if v.atStart || len(v.items) == 0 {
		return
	}

	first := v.items[0].key
	v.iter.Seek(first)
	if v.iter.Prev() {
		newItem := item{
			key: bytes.Clone(v.iter.Key()),
			val: bytes.Clone(v.iter.Val()),
		}
		if len(v.items) >= v.lines() {
			v.items = append([]item{newItem}, v.items[:len(v.items)-1]...)
		} else {
			v.items = append([]item{newItem}, v.items...)
		}
		v.atEnd = false
		if !v.iter.Prev() {
			v.atStart = true
		}
		v.iter.Seek(v.items[0].key)
	}
	v.report()
}

func (v *viewer) pageDown() {
	for i := 0; i < v.lines()-1; i++ {
		v.down()
	}
}

func (v *viewer) pageUp() {
	for i := 0; i < v.lines()-1; i++ {
		v.up()
	}
}

func (v *viewer) first() {
	v.iter.SeekFirst()
	v.load()
}

func (v *viewer) last() {
	v.iter.SeekLast()
	// back up to show a full screen
	for i := 0; i < v.lines()-1; i++ {
		if !v.iter.Prev() {
			v.iter.SeekFirst()
			break
		}
	}
	v.load()
}

func (v *viewer) search(reader *bufio.Reader) {
	fmt.Print("\033[?25h") // show cursor
	fmt.Printf("\033[%d;1H\033[K/", v.height)

	var input []byte
	for {
		b, err := reader.ReadByte()
		if err != nil {
			break
		}
		if b == 27 || b == 3 { // Esc or Ctrl+C
			fmt.Print("\033[?25l")
			v.status = ""
			return
		}
		if b == 13 || b == 10 { // Enter
			break
		}
		if b == 127 || b == 8 { // Backspace
			if len(input) > 0 {
				input = input[:len(input)-1]
				fmt.Print("\b \b")
			}
			continue
		}
		if b >= 32 && b < 127 {
			input = append(input, b)
			fmt.Print(string(b))
		}
	}
	fmt.Print("\033[?25l")

	if len(input) == 0 {
		v.status = ""
		return
	}

	key := input
	v.iter.Seek(key)
	if v.iter.Valid() {
		v.load()
		v.status = fmt.Sprintf("jumped to: %s", display(key, 20))
	} else {
		v.status = "not found"
		v.report()
	}
}

func (v *viewer) render() {
	var b strings.Builder

	// move to top (no clear)
	b.WriteString("\033[H")

	b.WriteString(titleColor.Sprint("[ btview ]"))
	b.WriteString("\033[K\r\n")
	b.WriteString(strings.Repeat("─", v.width))
	b.WriteString("\033[K\r\n")

	keyWidth := 32
	valWidth := max(v.width-keyWidth-4, 20)

	lines := v.lines()
	for i := 0; i < lines; i++ {
		if i < len(v.items) {
			it := v.items[i]
			b.WriteString(keyColor.Sprint(display(it.key, keyWidth)))
			b.WriteString(": ")
			b.WriteString(display(it.val, valWidth))
		} else {
			b.WriteString("~")
		}
		b.WriteString("\033[K\r\n")
	}

	b.WriteString(strings.Repeat("─", v.width))
	b.WriteString("\033[K\r\n")

	pos := ""
	if v.atStart && v.atEnd {
		pos = "[all]"
	} else if v.atStart {
		pos = "[top]"
	} else if v.atEnd {
		pos = "[end]"
	}

	if v.status != "" {
		b.WriteString(" ")
		b.WriteString(v.status)
		b.WriteString(" ")
		b.WriteString(pos)
	} else {
		b.WriteString(" j/k:scroll g/G:jump /:search q:quit ")
		b.WriteString(pos)
	}
	b.WriteString("\033[K")

	fmt.Print(b.String())
}

// display formats bytes for display, truncating if needed.
// Tries to show as string if printable, otherwise hex.
func display(b []byte, maxLen int) string {
	if len(b) == 0 {
		return "(empty)"
	}

	if utf8.Valid(b) && isPrintable(b) {
		runes := []rune(string(b))
		if len(runes) > maxLen-3 {
			return string(runes[:maxLen-3]) + "..."
		}
		return string(runes)
	}

	hex := fmt.Sprintf("%x", b)
	if len(hex) > maxLen-3 {
		return hex[:maxLen-3] + "..."
	}
	return hex
}

func isPrintable(b []byte) bool {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
