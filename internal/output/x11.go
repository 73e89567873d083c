package output

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// X11Config holds display window settings
type X11Config struct {
	Width      int
	Height     int
	Title      string
	Fullscreen bool

	// OnKey receives every key press translated to a rune (Esc is 27)
	OnKey func(key rune)
	// OnClose is called when the window manager asks the window to close
	OnClose func()
}

// X11Window presents frames in a plain X11 window
type X11Window struct {
	cfg    X11Config
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	win    xproto.Window
	gc     xproto.Gcontext
	log    *zerolog.Logger

	bytesPerPixel int
	scanlinePad   int
	maxRequest    int

	wmDelete     xproto.Atom
	wmState      xproto.Atom
	wmFullscreen xproto.Atom

	keymap   map[xproto.Keycode]rune
	keymapMu sync.RWMutex

	mu      sync.Mutex
	width   int
	height  int
	running bool
	buf     []byte
}

// NewX11Window connects to the X server named by $DISPLAY
func NewX11Window(cfg X11Config) (*X11Window, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.Title == "" {
		cfg.Title = "FluoroSim"
	}

	setup := xproto.Setup(conn)
	return &X11Window{
		cfg:    cfg,
		conn:   conn,
		screen: setup.DefaultScreen(conn),
		width:  cfg.Width,
		height: cfg.Height,
		// Length is in 4-byte units; keep headroom for the request header
		maxRequest: int(setup.MaximumRequestLength)*4 - 64,
		log:        logger.WithComponent("x11"),
	}, nil
}

// Start creates and maps the window and starts the event loop
func (x *X11Window) Start() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.running {
		return fmt.Errorf("display already running")
	}

	if err := x.findPixmapFormat(); err != nil {
		return err
	}

	win, err := xproto.NewWindowId(x.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	x.win = win

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify | xproto.EventMaskKeyPress,
	}
	err = xproto.CreateWindowChecked(
		x.conn,
		x.screen.RootDepth,
		x.win,
		x.screen.Root,
		0, 0,
		uint16(x.width), uint16(x.height),
		0,
		xproto.WindowClassInputOutput,
		x.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := x.setWindowTitle(x.cfg.Title); err != nil {
		x.log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := x.setWindowClass("fluorosim", "FluoroSim"); err != nil {
		x.log.Warn().Err(err).Msg("Failed to set window class")
	}
	if err := x.watchDelete(); err != nil {
		x.log.Warn().Err(err).Msg("Failed to register WM_DELETE_WINDOW")
	}
	if err := x.loadKeymap(); err != nil {
		x.log.Warn().Err(err).Msg("Failed to load keyboard mapping, keys disabled")
	}
	if x.wmState, err = x.getAtom("_NET_WM_STATE"); err != nil {
		return err
	}
	if x.wmFullscreen, err = x.getAtom("_NET_WM_STATE_FULLSCREEN"); err != nil {
		return err
	}

	if err := xproto.MapWindowChecked(x.conn, x.win).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(x.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(x.conn, gc, xproto.Drawable(x.win), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	x.gc = gc
	x.conn.Sync()

	x.running = true
	go x.eventLoop()

	x.log.Info().
		Int("width", x.width).
		Int("height", x.height).
		Uint32("window_id", uint32(x.win)).
		Msg("Display window created")

	if x.cfg.Fullscreen {
		if err := x.sendFullscreen(true); err != nil {
			x.log.Warn().Err(err).Msg("Failed to start fullscreen")
		}
	}
	return nil
}

// findPixmapFormat looks up the wire layout for the root depth
func (x *X11Window) findPixmapFormat() error {
	depth := x.screen.RootDepth
	for _, format := range xproto.Setup(x.conn).PixmapFormats {
		if format.Depth == depth {
			x.bytesPerPixel = int(format.BitsPerPixel) / 8
			x.scanlinePad = int(format.ScanlinePad) / 8
			break
		}
	}
	if x.bytesPerPixel != 3 && x.bytesPerPixel != 4 {
		return fmt.Errorf("unsupported pixmap format for depth %d", depth)
	}
	return nil
}

// Stop destroys the window and closes the connection
func (x *X11Window) Stop() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.running {
		return nil
	}
	x.running = false

	if x.gc != 0 {
		xproto.FreeGC(x.conn, x.gc)
	}
	if x.win != 0 {
		xproto.DestroyWindow(x.conn, x.win)
	}
	x.conn.Sync()
	x.conn.Close()

	x.log.Info().Msg("Display window closed")
	return nil
}

// Name implements Sink
func (x *X11Window) Name() string {
	return "x11"
}

// eventLoop handles window events until the connection closes
func (x *X11Window) eventLoop() {
	for {
		ev, err := x.conn.WaitForEvent()
		if ev == nil && err == nil {
			x.log.Debug().Msg("X connection closed, event loop exiting")
			return
		}
		if err != nil {
			x.log.Debug().Err(err).Msg("X error")
			continue
		}

		switch e := ev.(type) {
		case xproto.KeyPressEvent:
			if key, ok := x.lookupKey(e.Detail); ok && x.cfg.OnKey != nil {
				x.cfg.OnKey(key)
			}
		case xproto.ConfigureNotifyEvent:
			x.mu.Lock()
			if int(e.Width) != x.width || int(e.Height) != x.height {
				x.width, x.height = int(e.Width), int(e.Height)
				x.log.Debug().Int("width", x.width).Int("height", x.height).Msg("Window resized")
			}
			x.mu.Unlock()
		case xproto.ClientMessageEvent:
			if e.Format == 32 && xproto.Atom(e.Data.Data32[0]) == x.wmDelete {
				x.log.Info().Msg("Window closed by window manager")
				if x.cfg.OnClose != nil {
					x.cfg.OnClose()
				}
			}
		case xproto.MappingNotifyEvent:
			if err := x.loadKeymap(); err != nil {
				x.log.Warn().Err(err).Msg("Failed to reload keyboard mapping")
			}
		}
	}
}

// Present implements Sink. The frame is letterboxed into the window.
func (x *X11Window) Present(frame image.Image) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.running {
		return fmt.Errorf("display not running")
	}

	stride := padStride(x.width*x.bytesPerPixel, x.scanlinePad)
	size := stride * x.height
	if cap(x.buf) < size {
		x.buf = make([]byte, size)
	}
	x.buf = x.buf[:size]

	fitInto(x.buf, stride, x.bytesPerPixel, x.width, x.height, frame)

	// One PutImage per strip of rows that fits in a request
	rows := max(1, x.maxRequest/stride)
	for y := 0; y < x.height; y += rows {
		n := min(rows, x.height-y)
		err := xproto.PutImageChecked(
			x.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(x.win),
			x.gc,
			uint16(x.width), uint16(n),
			0, int16(y),
			0,
			x.screen.RootDepth,
			x.buf[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// SetFullscreen asks the window manager to toggle fullscreen via _NET_WM_STATE
func (x *X11Window) SetFullscreen(fullscreen bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.running {
		return fmt.Errorf("display not running")
	}
	return x.sendFullscreen(fullscreen)
}

func (x *X11Window) sendFullscreen(fullscreen bool) error {
	action := uint32(0) // _NET_WM_STATE_REMOVE
	if fullscreen {
		action = 1 // _NET_WM_STATE_ADD
	}

	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: x.win,
		Type:   x.wmState,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{action, uint32(x.wmFullscreen), 0, 1, 0}),
	}
	mask := uint32(xproto.EventMaskSubstructureNotify | xproto.EventMaskSubstructureRedirect)
	if err := xproto.SendEventChecked(x.conn, false, x.screen.Root, mask, string(ev.Bytes())).Check(); err != nil {
		return fmt.Errorf("failed to send fullscreen request: %w", err)
	}

	x.log.Info().Bool("fullscreen", fullscreen).Msg("Display mode changed")
	return nil
}

// loadKeymap caches the unshifted keysym of every keycode as a rune
func (x *X11Window) loadKeymap() error {
	setup := xproto.Setup(x.conn)
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)

	reply, err := xproto.GetKeyboardMapping(x.conn, first, count).Reply()
	if err != nil {
		return fmt.Errorf("failed to get keyboard mapping: %w", err)
	}

	keymap := make(map[xproto.Keycode]rune)
	per := int(reply.KeysymsPerKeycode)
	for i := 0; i < int(count) && per > 0; i++ {
		if i*per >= len(reply.Keysyms) {
			break
		}
		if r, ok := keysymRune(reply.Keysyms[i*per]); ok {
			keymap[first+xproto.Keycode(i)] = r
		}
	}

	x.keymapMu.Lock()
	x.keymap = keymap
	x.keymapMu.Unlock()
	return nil
}

func (x *X11Window) lookupKey(code xproto.Keycode) (rune, bool) {
	x.keymapMu.RLock()
	defer x.keymapMu.RUnlock()
	r, ok := x.keymap[code]
	return r, ok
}

// keysymRune maps the keysyms the simulator reacts to onto runes
func keysymRune(ks xproto.Keysym) (rune, bool) {
	switch {
	case ks == 0xff1b: // Escape
		return 27, true
	case ks >= 0xffb0 && ks <= 0xffb9: // keypad digits
		return rune('0' + ks - 0xffb0), true
	case ks >= 0x20 && ks <= 0x7e: // Latin-1 printable keysyms equal ASCII
		return rune(ks), true
	default:
		return 0, false
	}
}

func (x *X11Window) watchDelete() error {
	protocols, err := x.getAtom("WM_PROTOCOLS")
	if err != nil {
		return err
	}
	x.wmDelete, err = x.getAtom("WM_DELETE_WINDOW")
	if err != nil {
		return err
	}

	data := make([]byte, 4)
	xgb.Put32(data, uint32(x.wmDelete))
	return xproto.ChangePropertyChecked(
		x.conn, xproto.PropModeReplace, x.win, protocols, xproto.AtomAtom, 32, 1, data,
	).Check()
}

func (x *X11Window) setWindowTitle(title string) error {
	titleAtom, err := x.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := x.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		x.conn, xproto.PropModeReplace, x.win, titleAtom, utf8Atom, 8, uint32(len(title)), []byte(title),
	).Check()
}

func (x *X11Window) setWindowClass(instance, class string) error {
	// WM_CLASS format: instance\0class\0
	value := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(
		x.conn, xproto.PropModeReplace, x.win, xproto.AtomWmClass, xproto.AtomString, 8, uint32(len(value)), []byte(value),
	).Check()
}

func (x *X11Window) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
	}
	return reply.Atom, nil
}

func padStride(unpadded, pad int) int {
	if pad <= 0 {
		return unpadded
	}
	return (unpadded + pad - 1) / pad * pad
}

// fitRect returns the largest rectangle with src's aspect ratio centred in a w×h area
func fitRect(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 || w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	dw, dh := w, sh*w/sw
	if dh > h {
		dw, dh = sw*h/sh, h
	}
	ox, oy := (w-dw)/2, (h-dh)/2
	return image.Rect(ox, oy, ox+dw, oy+dh)
}

// fitInto letterboxes src into a w×h BGRx (or BGR) buffer with
// nearest-neighbour scaling. Bytes outside the fitted area are zeroed.
func fitInto(dst []byte, stride, bpp, w, h int, src image.Image) {
	clear(dst)

	sb := src.Bounds()
	r := fitRect(sb, w, h)
	if r.Empty() {
		return
	}
	gray, isGray := src.(*image.Gray)

	for dy := r.Min.Y; dy < r.Max.Y; dy++ {
		sy := sb.Min.Y + (dy-r.Min.Y)*sb.Dy()/r.Dy()
		row := dst[dy*stride:]
		for dx := r.Min.X; dx < r.Max.X; dx++ {
			sx := sb.Min.X + (dx-r.Min.X)*sb.Dx()/r.Dx()

			var b, g, rr uint8
			if isGray {
				v := gray.Pix[gray.PixOffset(sx, sy)]
				b, g, rr = v, v, v
			} else {
				c := color.RGBAModel.Convert(src.At(sx, sy)).(color.RGBA)
				b, g, rr = c.B, c.G, c.R
			}

			i := dx * bpp
			row[i] = b
			row[i+1] = g
			row[i+2] = rr
		}
	}
}
