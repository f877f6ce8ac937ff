// Package raster provides the single-channel grid type used throughout the
// detection pipeline, plus the preprocessing that turns fetched imagery
// into detection features.
//
// # Coordinate System
//
// Grids are indexed as [row][col] with row 0 at the top of the source
// image, matching standard image coordinates. The geographic transform
// (north-up flip, meters-to-degrees offset) is applied only when pixel
// positions are converted to coordinates by the geo package.
//
// # Vegetation Indices
//
// NIR false-color imagery carries near-infrared reflectance in the red
// channel slot. Living vegetation reflects NIR far more strongly than
// visible light, so normalized differences of the NIR and red channels
// (NDVI, SAVI, EVI2) act as per-pixel vegetation indicators. The
// detection pipeline runs scale-space analysis over one of these index
// grids rather than raw reflectance.
package raster
