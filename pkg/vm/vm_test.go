package vm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dynamips/dynamips-go/pkg/device"
	"github.com/dynamips/dynamips-go/pkg/mts"
	"github.com/dynamips/dynamips-go/pkg/tcb"
)

// fakeCPU is a minimal CPU satisfying vm.CPU without pulling in a real
// architecture package, so this package's tests stay independent of
// pkg/cpu/{mips64,ppc32}.
type fakeCPU struct {
	mu      sync.Mutex
	running bool
	resets  int32
}

func (f *fakeCPU) Reset() { atomic.AddInt32(&f.resets, 1) }

func (f *fakeCPU) RunCPU(mgr *tcb.Manager) {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	for {
		f.mu.Lock()
		running := f.running
		f.mu.Unlock()
		if !running {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeCPU) Suspend() {}
func (f *fakeCPU) Resume()  {}
func (f *fakeCPU) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func TestVMLifecycle(t *testing.T) {
	v := New("r1", "c7200", nil)
	if v.State() != StateNew {
		t.Fatalf("state = %v, want StateNew", v.State())
	}

	if err := v.Init(Config{RAMSizeBytes: 4096, NVRAMChecksumEnd: 0}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if v.State() != StateInitialized {
		t.Fatalf("state = %v, want StateInitialized", v.State())
	}

	cpu := &fakeCPU{}
	mgr := tcb.NewManager(nil, tcb.NewSharedGroup(), true)
	v.AddCPU(cpu, mgr)

	if err := v.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if v.State() != StateRunning {
		t.Fatalf("state = %v, want StateRunning", v.State())
	}
	if atomic.LoadInt32(&cpu.resets) != 1 {
		t.Fatalf("resets = %d, want 1", cpu.resets)
	}

	if err := v.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if v.State() != StateSuspended {
		t.Fatalf("state = %v, want StateSuspended", v.State())
	}

	if err := v.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if v.State() != StateRunning {
		t.Fatalf("state = %v, want StateRunning", v.State())
	}

	if err := v.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if v.State() != StateStopped {
		t.Fatalf("state = %v, want StateStopped", v.State())
	}

	if err := v.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestVMStartWithoutCPUsFails(t *testing.T) {
	v := New("r2", "c3600", nil)
	if err := v.Init(Config{RAMSizeBytes: 4096}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := v.Start(); err != ErrNoCPUs {
		t.Fatalf("Start err = %v, want ErrNoCPUs", err)
	}
}

func TestVMWrongStateTransitionsFail(t *testing.T) {
	v := New("r3", "c3600", nil)
	if err := v.Start(); err == nil {
		t.Fatal("expected Start before Init to fail")
	}
	if err := v.Suspend(); err == nil {
		t.Fatal("expected Suspend before Start to fail")
	}
}

func TestVMRegisterDeviceInstallsPhysRegion(t *testing.T) {
	v := New("r4", "c7200", nil)
	if err := v.Init(Config{RAMSizeBytes: 4096}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	nvram := device.NewNVRAMSize(256, 0, 254, 254)
	v.RegisterDevice(&device.VDevice{Name: "nvram", Base: 0x1E000000, Length: 256, Handler: nvram})

	region := v.PhysMap().Lookup(0x1E000000)
	if region == nil {
		t.Fatal("expected a phys region at the nvram base")
	}
	if region.Perm&mts.PermWrite == 0 {
		t.Fatal("expected the nvram region to be writable")
	}
}

func TestNVRAMPathConvention(t *testing.T) {
	got := NVRAMPath("/var/lib/dynamips", "r1")
	want := "/var/lib/dynamips/r1_nvram"
	if got != want {
		t.Errorf("NVRAMPath = %q, want %q", got, want)
	}
}
