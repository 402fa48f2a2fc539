/*
GPSL1 is a software-defined GPS L1 C/A receiver core: per-satellite
FFT-based parallel code phase search acquisition feeding a coupled-
amplitude DLL/PLL tracking loop, one cooperative pipeline per channel.

Samples come either from an rtl_tcp server (unsigned 8-bit IQ) or from a
file of interleaved complex float32 baseband (-filename). Each channel
emits one synchronization record per PRN period on stdout.

Command-line Flags:

	-prns="1"

Comma-separated list of PRNs to search, one channel each. Defaults to
PRN 1.

	-samplerate=2048000

Baseband sample rate in Hz. The receiver derives its block geometry from
this; it must be an integer multiple of 1000.

	-dopplermax=5000
	-dopplerstep=500

Half-width and spacing of the acquisition Doppler grid in Hz.

	-sampledms=1
	-maxdwells=2
	-threshold=2.5

Dwell length in code periods, the number of dwells before acquisition
gives up on a satellite, and the peak-to-floor decision threshold.

	-bittransition=false

Enables two-dwell acquisition, robust against navigation bit edges at
the cost of always consuming two dwells.

	-peak=1

Number of disjoint correlation peaks required for a positive; values
above one enable auxiliary-peak resolution and report the weakest
selected peak.

	-pllbw=25
	-dllbw=2
	-earlylatespc=0.5

Tracking loop noise bandwidths in Hz and the early-late correlator
spacing in chips.

	-cadlloffset=27

Seed offset of the secondary code loop in samples when CADLL mode
engages; signal and front-end dependent.

	-format="plain"

Synchronization record output format: plain, csv or json.

	-acqdump=""
	-trkdump=""

Optional binary dump destinations: a directory receiving per-Doppler-bin
acquisition grids, and a filename prefix for the per-channel tracking
record stream.

	-duration=0

Time to run for, 0 for infinite.
*/
package main
