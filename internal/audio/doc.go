// Package audio turns a live microphone stream into utterances.
//
// A Session opens a Source, feeds frames into a Segmenter and returns one
// Utterance per Record call. The Segmenter gates on frame RMS: it starts
// recording on the first frame above the threshold and stops after a run of
// quiet frames or when the capture reaches its maximum length. Device
// bindings live in the device subpackage so this package builds without
// native libraries.
package audio
