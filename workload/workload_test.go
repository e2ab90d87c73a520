package workload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storageperf/fiosweep/config"
	"github.com/storageperf/fiosweep/units"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Runtime = 30
	cfg.Ramp = 10
	cfg.Device = "nullb0"
	require.NoError(t, cfg.Validate())
	return cfg
}

func point(raw string, bytes units.Bytes, jobs int, wl string, qd int) Point {
	return Point{
		BlockSize:  config.BlockSize{Raw: raw, Bytes: bytes},
		Jobs:       jobs,
		Workload:   wl,
		QueueDepth: qd,
	}
}

func TestFioArgsBaseline(t *testing.T) {
	cfg := testConfig(t)
	e := &Executor{Cfg: cfg}

	args := e.fioArgs(point("4k", 4096, 1, "read", 1), "")

	for _, want := range []string{
		"--group_reporting",
		"--name=default",
		"--filename=/dev/nullb0",
		"--time_based=1",
		"--runtime=30",
		"--gtod_reduce=1",
		"--clocksource=cpu",
		"--readwrite=read",
		"--blocksize=4096",
		"--direct=1",
		"--cpus_allowed_policy=split",
		"--cpus_allowed=0-0",
		"--numjobs=1",
		"--ioengine=io_uring",
		"--iodepth=1",
		"--fixedbufs=1",
		"--registerfiles=1",
		"--nonvectored=1",
		"--ramp_time=10",
	} {
		assert.Contains(t, args, want)
	}

	// No capture, no verify, no hipri, no huge pages.
	joined := strings.Join(args, " ")
	assert.NotContains(t, joined, "--output")
	assert.NotContains(t, joined, "--hipri")
	assert.NotContains(t, joined, "--iomem")
	assert.Contains(t, args, "--norandommap")
	assert.Contains(t, args, "--random_generator=lfsr")
}

func TestFioArgsBlockSizeIsParsedBytes(t *testing.T) {
	e := &Executor{Cfg: testConfig(t)}
	args := e.fioArgs(point("16MiB", 16<<20, 6, "randread", 128), "")
	assert.Contains(t, args, "--blocksize=16777216")
	assert.Contains(t, args, "--cpus_allowed=0-5")
	assert.Contains(t, args, "--numjobs=6")
	assert.Contains(t, args, "--iodepth=128")
	assert.Contains(t, args, "--readwrite=randread")
}

func TestFioArgsVerifyMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Verify = true
	e := &Executor{Cfg: cfg}

	args := e.fioArgs(point("4k", 4096, 1, "write", 8), "")
	assert.Contains(t, args, "--do_verify=1")
	assert.Contains(t, args, "--verify=md5")
	assert.NotContains(t, args, "--norandommap")
	assert.NotContains(t, args, "--random_generator=lfsr")
}

func TestFioArgsZeroRampOmitsRampTime(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ramp = 0
	e := &Executor{Cfg: cfg}

	args := e.fioArgs(point("4k", 4096, 1, "read", 1), "")
	assert.NotContains(t, strings.Join(args, " "), "--ramp_time")
}

func TestFioArgsCaptureAndFlags(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture = true
	cfg.Hipri = true
	cfg.HugePages = true
	e := &Executor{Cfg: cfg}

	runDir := t.TempDir()
	args := e.fioArgs(point("4k", 4096, 2, "randwrite", 32), runDir)

	assert.Contains(t, args, "--output-format=json+")
	assert.Contains(t, args, fmt.Sprintf("--output=%s", filepath.Join(runDir, "j2-r30-wrandwrite-bs4k-qd32.json")))
	assert.Contains(t, args, "--hipri=1")
	assert.Contains(t, args, "--iomem=mmaphuge")
}

func TestOutputIDUsesRawBlockSize(t *testing.T) {
	e := &Executor{Cfg: testConfig(t)}
	id := e.outputID(point("16MiB", 16<<20, 6, "read", 128))
	assert.Equal(t, "j6-r30-wread-bs16MiB-qd128", id)
}

func TestMeasureCapturesStreams(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho out\necho err >&2\nexit 0\n"), 0o755))

	cfg := testConfig(t)
	cfg.Capture = true
	cfg.Fio = stub
	e := &Executor{Cfg: cfg}

	runDir := t.TempDir()
	p := point("4k", 4096, 1, "read", 1)
	require.NoError(t, e.Measure(p, runDir))

	stdout, err := os.ReadFile(filepath.Join(runDir, "j1-r30-wread-bs4k-qd1.stdout"))
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(stdout))

	stderr, err := os.ReadFile(filepath.Join(runDir, "j1-r30-wread-bs4k-qd1.stderr"))
	require.NoError(t, err)
	assert.Equal(t, "err\n", string(stderr))
}

func TestMeasureReportsFioFailure(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	cfg := testConfig(t)
	cfg.Fio = stub
	e := &Executor{Cfg: cfg}

	err := e.Measure(point("4k", 4096, 1, "read", 1), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fio workload failed")
}

func TestRunPrepCapturesStreams(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho prep\nexit 0\n"), 0o755))

	cfg := testConfig(t)
	cfg.Capture = true
	cfg.Prep = true
	cfg.Fio = stub
	e := &Executor{Cfg: cfg}

	runDir := t.TempDir()
	require.NoError(t, e.RunPrep(point("4k", 4096, 1, "read", 1), runDir))

	data, err := os.ReadFile(filepath.Join(runDir, "j1-r30-wread-bs4k-qd1-prep.stdout"))
	require.NoError(t, err)
	assert.Equal(t, "prep\n", string(data))
	_, err = os.Stat(filepath.Join(runDir, "j1-r30-wread-bs4k-qd1-prep.stderr"))
	assert.NoError(t, err)
}

type fakePinger struct {
	calls int
	err   error
}

func (f *fakePinger) Ping() error {
	f.calls++
	return f.err
}

func TestSuperviseReturnsChildStatus(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	cfg := testConfig(t)
	cfg.Fio = stub
	pinger := &fakePinger{}
	e := &Executor{Cfg: cfg, Remote: pinger}

	require.NoError(t, e.Measure(point("4k", 4096, 1, "read", 1), ""))
	assert.Equal(t, 0, pinger.calls, "a fast run ends before the first ping is due")
}

func TestSupervisePingsWhileChildRuns(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\nsleep 1\nexit 0\n"), 0o755))

	cfg := testConfig(t)
	cfg.Fio = stub
	pinger := &fakePinger{}
	e := &Executor{
		Cfg:       cfg,
		Remote:    pinger,
		PingEvery: 200 * time.Millisecond,
		PollEvery: 50 * time.Millisecond,
	}

	require.NoError(t, e.Measure(point("4k", 4096, 1, "read", 1), ""))
	assert.GreaterOrEqual(t, pinger.calls, 2, "pings keep flowing while the child runs")
}

func TestSupervisePingFailureKillsChild(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\nsleep 60\n"), 0o755))

	cfg := testConfig(t)
	cfg.Fio = stub
	pinger := &fakePinger{err: errors.New("controller unreachable")}
	e := &Executor{
		Cfg:       cfg,
		Remote:    pinger,
		PingEvery: 50 * time.Millisecond,
		PollEvery: 10 * time.Millisecond,
	}

	start := time.Now()
	err := e.Measure(point("4k", 4096, 1, "read", 1), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liveness ping failed")
	assert.Contains(t, err.Error(), "controller unreachable")
	assert.GreaterOrEqual(t, pinger.calls, 1)
	assert.Less(t, time.Since(start), 20*time.Second, "the child is killed and reaped, not waited out")
}

func TestParseFioVersion(t *testing.T) {
	cases := map[string]string{
		"fio-3.36\n":          "3.36.0",
		"fio-3.13":            "3.13.0",
		"fio-3.36-19-g1ffd\n": "3.36.0",
	}
	for in, want := range cases {
		v, err := parseFioVersion(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, v.String(), "input %q", in)
	}

	_, err := parseFioVersion("not fio at all")
	assert.Error(t, err)
}

func TestCheckFioRejectsOldVersion(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho fio-2.21\n"), 0o755))

	cfg := testConfig(t)
	cfg.Fio = stub
	e := &Executor{Cfg: cfg}

	err := e.CheckFio()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too old")
}

func TestCheckFioAcceptsCurrentVersion(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fio")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho fio-3.36\n"), 0o755))

	cfg := testConfig(t)
	cfg.Fio = stub
	e := &Executor{Cfg: cfg}

	assert.NoError(t, e.CheckFio())
}
