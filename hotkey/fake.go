package hotkey

// FakeHotkey is driven by SimKeydown and SimKeyup.
type FakeHotkey struct {
	keydown    chan struct{}
	keyup      chan struct{}
	Registered bool
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (f *FakeHotkey) Register() error          { f.Registered = true; return nil }
func (f *FakeHotkey) Unregister()              { f.Registered = false }
func (f *FakeHotkey) Keydown() <-chan struct{} { return f.keydown }
func (f *FakeHotkey) Keyup() <-chan struct{}   { return f.keyup }

func (f *FakeHotkey) SimKeydown() { f.keydown <- struct{}{} }
func (f *FakeHotkey) SimKeyup()   { f.keyup <- struct{}{} }
