package host

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"oscc/pkg/machine"
	"oscc/pkg/vfs"
)

// standardFuncs is the full binding set in slot order. The order is part of
// a compiled program's ABI: images built against one table only run against
// a table with the same layout.
func standardFuncs() []hostFunc {
	return []hostFunc{
		{"print", -1, hostPrint},
		{"puts", 1, hostPuts},
		{"putc", 1, hostPutc},
		{"getc", 0, hostGetc},

		{"alloc", 1, hostAlloc},
		{"free", 1, hostFree},

		{"strlen", 1, hostStrlen},
		{"strcpy", 2, hostStrcpy},
		{"strcmp", 2, hostStrcmp},
		{"strcat", 2, hostStrcat},
		{"strstr", 2, hostStrstr},
		{"memset", 3, hostMemset},
		{"memcpy", 3, hostMemcpy},
		{"memcmp", 3, hostMemcmp},

		{"inb", 1, hostInb},
		{"outb", 2, hostOutb},

		{"fopen", 2, hostFopen},
		{"fclose", 1, hostFclose},
		{"fread", 3, hostFread},
		{"fwrite", 3, hostFwrite},
		{"fseek", 3, hostFseek},
		{"fstat", 2, hostFstat},
		{"readdir", 3, hostReaddir},
		{"mkdir", 1, hostMkdir},
		{"unlink", 1, hostUnlink},
		{"rename", 2, hostRename},

		{"yield", 0, hostYield},
		{"exit", 1, hostExit},
		{"sleep", 1, hostSleep},
		{"ticks", 0, hostTicks},
		{"rtcnow", 1, hostRtcnow},

		{"dbgdump", 2, hostDbgdump},
		{"dbgtrace", 1, hostDbgtrace},
	}
}

// ── console ────────────────────────────────────────────────────────────────

// hostPrint formats its arguments against the format string in the first
// one. Verbs: %d signed, %u unsigned, %x hex, %c character, %s string, %%.
func hostPrint(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	if len(args) == 0 {
		return errVal, nil
	}
	format, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	rest := args[1:]
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' || i+1 == len(format) {
			sb.WriteByte(ch)
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}
		if len(rest) == 0 {
			sb.WriteByte('%')
			sb.WriteByte(verb)
			continue
		}
		arg := rest[0]
		rest = rest[1:]
		switch verb {
		case 'd':
			sb.WriteString(strconv.FormatInt(int64(int32(arg)), 10))
		case 'u':
			sb.WriteString(strconv.FormatUint(uint64(arg), 10))
		case 'x':
			sb.WriteString(strconv.FormatUint(uint64(arg), 16))
		case 'c':
			sb.WriteByte(byte(arg))
		case 's':
			s, err := readCString(m, arg)
			if err != nil {
				return 0, err
			}
			sb.WriteString(s)
		default:
			sb.WriteByte('%')
			sb.WriteByte(verb)
		}
	}
	n, err := t.console.Write([]byte(sb.String()))
	if err != nil {
		return 0, fmt.Errorf("console write: %w", err)
	}
	return uint32(n), nil
}

func hostPuts(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	s, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	if _, err := t.console.Write(append([]byte(s), '\n')); err != nil {
		return 0, fmt.Errorf("console write: %w", err)
	}
	return uint32(len(s)), nil
}

func hostPutc(t *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	if _, err := t.console.Write([]byte{byte(args[0])}); err != nil {
		return 0, fmt.Errorf("console write: %w", err)
	}
	return args[0], nil
}

func hostGetc(t *Table, _ *machine.Machine, _ []uint32) (uint32, error) {
	if t.input == nil {
		return errVal, nil
	}
	var buf [1]byte
	n, err := t.input.Read(buf[:])
	if n == 0 || err != nil {
		return errVal, nil
	}
	return uint32(buf[0]), nil
}

// ── heap ───────────────────────────────────────────────────────────────────

func hostAlloc(t *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	return t.alloc(args[0]), nil
}

func hostFree(t *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	if !t.free(args[0]) {
		log.Warningf("free of unallocated address %#x", args[0])
		return errVal, nil
	}
	return 0, nil
}

// ── strings and memory ─────────────────────────────────────────────────────

func hostStrlen(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	s, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	return uint32(len(s)), nil
}

func hostStrcpy(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	s, err := readCString(m, args[1])
	if err != nil {
		return 0, err
	}
	if err := writeCString(m, args[0], s, maxCString); err != nil {
		return 0, err
	}
	return args[0], nil
}

func hostStrcmp(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	a, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	b, err := readCString(m, args[1])
	if err != nil {
		return 0, err
	}
	return uint32(int32(strings.Compare(a, b))), nil
}

func hostStrcat(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	dst, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	src, err := readCString(m, args[1])
	if err != nil {
		return 0, err
	}
	if err := writeCString(m, args[0], dst+src, maxCString); err != nil {
		return 0, err
	}
	return args[0], nil
}

// hostStrstr returns the address of the first occurrence of the needle, or
// 0 when absent.
func hostStrstr(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	hay, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	needle, err := readCString(m, args[1])
	if err != nil {
		return 0, err
	}
	i := strings.Index(hay, needle)
	if i < 0 {
		return 0, nil
	}
	return args[0] + uint32(i), nil
}

func hostMemset(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	dst, val, n := args[0], byte(args[1]), args[2]
	for i := uint32(0); i < n; i++ {
		if err := m.WriteByte(dst+i, val); err != nil {
			return 0, err
		}
	}
	return dst, nil
}

func hostMemcpy(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	dst, src, n := args[0], args[1], args[2]
	for i := uint32(0); i < n; i++ {
		b, err := m.ReadByte(src + i)
		if err != nil {
			return 0, err
		}
		if err := m.WriteByte(dst+i, b); err != nil {
			return 0, err
		}
	}
	return dst, nil
}

func hostMemcmp(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	a, b, n := args[0], args[1], args[2]
	for i := uint32(0); i < n; i++ {
		x, err := m.ReadByte(a + i)
		if err != nil {
			return 0, err
		}
		y, err := m.ReadByte(b + i)
		if err != nil {
			return 0, err
		}
		if x != y {
			if x < y {
				return errVal, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

// ── port IO ────────────────────────────────────────────────────────────────
//
// Ports are a scratch byte space. Writing a port stores the byte; reading
// returns the last written value. Real device behavior belongs to whatever
// embeds the table and pre-loads the port map.

func hostInb(t *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	return uint32(t.ports[uint16(args[0])]), nil
}

func hostOutb(t *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	t.ports[uint16(args[0])] = uint8(args[1])
	return 0, nil
}

// ── files ──────────────────────────────────────────────────────────────────

// hostFopen opens a file and returns a descriptor, or -1. Modes: "r" opens
// an existing file, "w" truncates or creates, "a" opens or creates and
// seeks to the end.
func hostFopen(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	path, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	mode, err := readCString(m, args[1])
	if err != nil {
		return 0, err
	}

	h := &fileHandle{path: path}
	switch mode {
	case "r":
		info, err := t.disk.Stat(path)
		if err != nil || info.IsDir {
			return errVal, nil
		}
	case "w":
		if err := t.disk.WriteFile(path, nil); err != nil {
			return errVal, nil
		}
	case "a":
		info, err := t.disk.Stat(path)
		if err != nil {
			if err := t.disk.Create(path); err != nil {
				return errVal, nil
			}
		} else if info.IsDir {
			return errVal, nil
		} else {
			h.pos = info.Size
		}
	default:
		return errVal, nil
	}

	fd := t.nextFd
	t.nextFd++
	t.handles[fd] = h
	return uint32(fd), nil
}

func hostFclose(t *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	fd := int32(args[0])
	if _, ok := t.handles[fd]; !ok {
		return errVal, nil
	}
	delete(t.handles, fd)
	return 0, nil
}

func hostFread(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	h, ok := t.handles[int32(args[0])]
	if !ok {
		return errVal, nil
	}
	data, err := t.disk.ReadAt(h.path, h.pos, int(args[2]))
	if err != nil {
		return errVal, nil
	}
	for i, b := range data {
		if err := m.WriteByte(args[1]+uint32(i), b); err != nil {
			return 0, err
		}
	}
	h.pos += len(data)
	return uint32(len(data)), nil
}

func hostFwrite(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	h, ok := t.handles[int32(args[0])]
	if !ok {
		return errVal, nil
	}
	n := int(args[2])
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := m.ReadByte(args[1] + uint32(i))
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	if err := t.disk.WriteAt(h.path, h.pos, buf); err != nil {
		return errVal, nil
	}
	h.pos += n
	return uint32(n), nil
}

// hostFseek repositions a descriptor. whence: 0 from start, 1 relative, 2
// from end. Returns the new position.
func hostFseek(t *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	h, ok := t.handles[int32(args[0])]
	if !ok {
		return errVal, nil
	}
	off := int(int32(args[1]))
	var pos int
	switch args[2] {
	case 0:
		pos = off
	case 1:
		pos = h.pos + off
	case 2:
		info, err := t.disk.Stat(h.path)
		if err != nil {
			return errVal, nil
		}
		pos = info.Size + off
	default:
		return errVal, nil
	}
	if pos < 0 {
		return errVal, nil
	}
	h.pos = pos
	return uint32(pos), nil
}

// hostFstat writes {size, isDir} as two words at the output address and
// returns 0, or -1 when the path does not exist.
func hostFstat(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	path, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	info, err := t.disk.Stat(path)
	if err != nil {
		return errVal, nil
	}
	if err := m.WriteU32(args[1], uint32(info.Size)); err != nil {
		return 0, err
	}
	isDir := uint32(0)
	if info.IsDir {
		isDir = 1
	}
	if err := m.WriteU32(args[1]+4, isDir); err != nil {
		return 0, err
	}
	return 0, nil
}

// hostReaddir copies the name of entry index of a directory into the name
// buffer and returns 1, or 0 past the end, or -1 on error. The empty string
// and "." both list the root.
func hostReaddir(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	path, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	if path == "." {
		path = ""
	}
	entries, err := t.disk.List(path)
	if err != nil {
		return errVal, nil
	}
	i := int(args[1])
	if i < 0 || i >= len(entries) {
		return 0, nil
	}
	if err := writeCString(m, args[2], entries[i].Name, 33); err != nil {
		return 0, err
	}
	return 1, nil
}

func hostMkdir(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	path, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	if err := t.disk.Mkdir(path); err != nil {
		return errVal, nil
	}
	return 0, nil
}

func hostUnlink(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	path, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	if err := t.disk.Remove(path); err != nil {
		return errVal, nil
	}
	return 0, nil
}

func hostRename(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	oldPath, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	newPath, err := readCString(m, args[1])
	if err != nil {
		return 0, err
	}
	if err := t.disk.Rename(oldPath, newPath); err != nil {
		if err == vfs.ErrQuotaExceeded {
			log.Warningf("rename %s -> %s: %s", oldPath, newPath, err)
		}
		return errVal, nil
	}
	return 0, nil
}

// ── process control ────────────────────────────────────────────────────────

func hostYield(_ *Table, _ *machine.Machine, _ []uint32) (uint32, error) {
	return 0, nil
}

func hostExit(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	m.Halted = true
	m.ExitCode = int32(args[0])
	return args[0], nil
}

func hostSleep(_ *Table, _ *machine.Machine, args []uint32) (uint32, error) {
	ms := args[0]
	if ms > 10000 {
		ms = 10000
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return 0, nil
}

func hostTicks(t *Table, _ *machine.Machine, _ []uint32) (uint32, error) {
	return uint32(time.Since(t.start).Milliseconds()), nil
}

// hostRtcnow writes {year, month, day, hour, minute, second} as six words
// at the output address.
func hostRtcnow(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	now := time.Now()
	vals := []uint32{
		uint32(now.Year()), uint32(now.Month()), uint32(now.Day()),
		uint32(now.Hour()), uint32(now.Minute()), uint32(now.Second()),
	}
	for i, v := range vals {
		if err := m.WriteU32(args[0]+uint32(4*i), v); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// ── debugging ──────────────────────────────────────────────────────────────

// hostDbgdump hex-dumps a memory region to the console, sixteen bytes per
// line.
func hostDbgdump(t *Table, m *machine.Machine, args []uint32) (uint32, error) {
	addr, n := args[0], args[1]
	if n > 4096 {
		n = 4096
	}
	var sb strings.Builder
	for i := uint32(0); i < n; i++ {
		if i%16 == 0 {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%08x:", addr+i)
		}
		b, err := m.ReadByte(addr + i)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(&sb, " %02x", b)
	}
	sb.WriteByte('\n')
	if _, err := t.console.Write([]byte(sb.String())); err != nil {
		return 0, fmt.Errorf("console write: %w", err)
	}
	return n, nil
}

func hostDbgtrace(_ *Table, m *machine.Machine, args []uint32) (uint32, error) {
	s, err := readCString(m, args[0])
	if err != nil {
		return 0, err
	}
	log.Infof("trace: %s", s)
	return 0, nil
}
