// Package scalespace builds gaussian scale spaces over raster grids for
// multi-scale blob detection.
//
// A scale space is a family of filtered versions of one image, each tuned
// to features of a different physical size. This package samples the
// radius range uniformly in meters, converts each radius to a pixel-space
// gaussian width via the grid's ground sampling distance, and produces a
// scale-normalized Laplacian-of-Gaussian response layer per radius. A
// bright, roughly circular region of radius r produces a positive peak in
// the layer whose radius matches r, at the region's center.
//
// The radius-to-sigma convention is radius = sigma * sqrt(2), the scale
// at which the LoG response of a matching gaussian blob is extremal.
package scalespace
