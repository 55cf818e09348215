// Package config loads scan definitions from YAML.
//
// A scan file names the scan, lists the path models from outermost to
// innermost, optionally filters the path with regions, declares the local
// devices and says how to reach a remote controller:
//
//	name: grid-demo
//	scan:
//	  - {type: step, name: T, start: 290, stop: 300, step: 5}
//	  - type: grid
//	    fast: x
//	    slow: y
//	    box: {fastStart: 0, slowStart: 0, fastLength: 3, slowLength: 3}
//	    fastPoints: 3
//	    slowPoints: 3
//	    snake: true
//	regions:
//	  - {type: circle, axes: [x, y], x: 1.5, y: 1.5, radius: 2}
//	devices:
//	  - {name: x, kind: motor}
//	  - {name: det, kind: detector, exposure: 10ms}
//	remote:
//	  transport: tcp
//	  address: localhost:8008
//	  device: zebra
//
// Values are read in three layers: defaults, then the file, then the
// SCAN_* environment variables.
package config
