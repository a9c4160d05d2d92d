// Package sim is a small planar simulator standing in for the robot's
// external collaborators: a rectangular room with box obstacles, an omni
// base driven by velocity commands, horizontal depth scanline sensors and
// an RGB-D camera. Sensors ray-cast the room using the same pixel-to-ray
// geometry the fusion pipeline inverts, so fused scans reproduce the room.
package sim
