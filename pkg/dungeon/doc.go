// Package dungeon is LandKeeper's worked example Land type: a small
// roguelike room exercising the reactive state tree, the Sync Engine, and
// every Handler/Resolver mechanism Land types get. Its character sheet,
// items, tiles, dice rolling, and seeded procedural generation are built
// around the Land Keeper's single-writer, reactive-container state model.
package dungeon
